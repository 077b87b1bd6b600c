/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/jerry-enebeli/swapflow/api/model"
)

func (a Api) CreateOrder(c *gin.Context) {
	var newOrder model2.CreateOrder
	if err := c.ShouldBindJSON(&newOrder); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newOrder.ValidateCreateOrder()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	order, err := a.swapflow.CreateOrder(c.Request.Context(), newOrder.ToCreateOrderRequest())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model2.ToOrderCreated(order))
}

func (a Api) GetOrder(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	order, err := a.swapflow.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (a Api) GetAllOrders(c *gin.Context) {
	orders, err := a.swapflow.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

// SubscribeOrders upgrades the request to a websocket that receives the
// connected acknowledgment and then every progress event published while it
// stays open.
func (a Api) SubscribeOrders(c *gin.Context) {
	if a.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates are not served by this process"})
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	if err := a.registry.Serve(conn); err != nil {
		logrus.WithError(err).Debug("subscriber disconnected")
	}
}

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

package notification

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// Notifier reports operational errors to a Slack webhook. A Notifier with
// an empty webhook URL only logs.
type Notifier struct {
	webhookURL string
	now        func() time.Time
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{webhookURL: webhookURL, now: time.Now}
}

func (n *Notifier) message(title string, systemError error) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + systemError.Error()}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + n.now().Format(time.RFC822)}}},
	}}
}

// SlackNotification posts the error to Slack and waits for the answer.
func (n *Notifier) SlackNotification(ctx context.Context, title string, systemError error) error {
	payload, err := request.ToJsonReq(n.message(title, systemError))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, payload)
	if err != nil {
		return err
	}

	_, err = request.Call(req, nil)
	return err
}

// NotifyError logs systemError and, when Slack is configured, forwards it
// without blocking the caller.
func (n *Notifier) NotifyError(title string, systemError error) {
	logrus.WithField("notification", title).Error(systemError)
	if n == nil || n.webhookURL == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.SlackNotification(ctx, title, systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}()
}

// Package integration pushes operator-facing signals to external services:
// chat notifications to Slack, critical pages to PagerDuty, and audit
// documents to OpenSearch. Every integration is optional; an unconfigured
// one degrades to a log line.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// DefaultTimeout bounds every outbound call.
var DefaultTimeout = 10 * time.Second

// Options to configure an Integration. Empty fields disable the respective
// integration.
type Options struct {
	Logger logrus.FieldLogger

	SlackToken   string
	SlackChannel string

	PagerDutyKey string

	OpenSearchURL   string
	OpenSearchIndex string
}

// Integration fans operator signals out to the configured services. It
// implements the alerter consumed by the observers and the pager consumed by
// the monitors.
type Integration struct {
	opts  Options
	slack *slack.Client
	os    *opensearch.Client
}

// New returns a new Integration.
func New(opts Options) (*Integration, error) {
	integration := &Integration{opts: opts}
	if opts.SlackToken != "" {
		integration.slack = slack.New(opts.SlackToken)
	}
	if opts.OpenSearchURL != "" {
		client, err := opensearch.NewClient(opensearch.Config{
			Addresses: []string{opts.OpenSearchURL},
		})
		if err != nil {
			return nil, err
		}
		integration.os = client
	}
	return integration, nil
}

// Notify posts a routine message to the chat channel.
func (integration *Integration) Notify(text string) {
	if integration.slack == nil {
		integration.opts.Logger.Infof("[integration] %v", text)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	_, _, err := integration.slack.PostMessageContext(ctx, integration.opts.SlackChannel, slack.MsgOptionText(text, false))
	if err != nil {
		integration.opts.Logger.Errorf("[integration] cannot notify %q: %v", integration.opts.SlackChannel, err)
	}
}

// Page fires a critical alert to the on-call operator.
func (integration *Integration) Page(summary string, details map[string]interface{}) {
	if integration.opts.PagerDutyKey == "" {
		integration.opts.Logger.Errorf("[integration] %v: %v", summary, details)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	_, err := pagerduty.ManageEventWithContext(ctx, pagerduty.V2Event{
		RoutingKey: integration.opts.PagerDutyKey,
		Action:     "trigger",
		Payload: &pagerduty.V2Payload{
			Summary:  summary,
			Source:   "ncg-bridge",
			Severity: "critical",
			Details:  details,
		},
	})
	if err != nil {
		integration.opts.Logger.Errorf("[integration] cannot page %q: %v", summary, err)
	}
}

// Audit indexes the document into the audit index.
func (integration *Integration) Audit(document map[string]interface{}) {
	if integration.os == nil {
		return
	}
	document["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(document)
	if err != nil {
		integration.opts.Logger.Errorf("[integration] cannot marshal audit document: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	resp, err := opensearchapi.IndexRequest{
		Index: integration.opts.OpenSearchIndex,
		Body:  bytes.NewReader(body),
	}.Do(ctx, integration.os)
	if err != nil {
		integration.opts.Logger.Errorf("[integration] cannot index audit document: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.IsError() {
		integration.opts.Logger.Errorf("[integration] audit index returned %v", resp.Status())
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/dmitrijs2005/outofsight/internal/logging"
)

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct {
	logger logging.Logger
}

func NewLogMailer(l logging.Logger) *LogMailer {
	return &LogMailer{logger: l.With("module", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, recipient, subject, body string) error {
	m.logger.Info(ctx, "mail", "to", recipient, "subject", subject, "body", body)
	return nil
}

// SQSSender is the part of *sqs.Client the mailer uses.
type SQSSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Mail is the JSON document SQSMailer hands to the mail relay.
type Mail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SQSMailer posts mail to a queue drained by a separate relay.
type SQSMailer struct {
	client   SQSSender
	queueURL string
	from     string
}

func NewSQSMailer(client SQSSender, queueURL, from string) *SQSMailer {
	return &SQSMailer{client: client, queueURL: queueURL, from: from}
}

func (m *SQSMailer) Send(ctx context.Context, recipient, subject, body string) error {
	payload, err := json.Marshal(Mail{From: m.from, To: recipient, Subject: subject, Body: body})
	if err != nil {
		return err
	}

	_, err = m.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(m.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}
	return nil
}

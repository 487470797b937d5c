package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsMaxBatch is the service limit for one ReceiveMessage call.
const sqsMaxBatch = 10

// ErrNoDeadLetterQueue is returned by DeadLetter when no dead-letter queue URL
// is configured. The worker refuses to start in that state.
var ErrNoDeadLetterQueue = errors.New("no dead-letter queue configured")

// SQSAPI is the part of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var newSQSClientFromConfig = func(cfg aws.Config, optFns ...func(*sqs.Options)) SQSAPI {
	return sqs.NewFromConfig(cfg, optFns...)
}

// NewSQSClient builds an SQS client, pointing it at baseEndpoint when set
// (ElasticMQ or LocalStack).
func NewSQSClient(cfg aws.Config, baseEndpoint string) SQSAPI {
	return newSQSClientFromConfig(cfg, func(o *sqs.Options) {
		if baseEndpoint != "" {
			o.BaseEndpoint = aws.String(baseEndpoint)
		}
	})
}

type SQSOptions struct {
	QueueURL          string
	DeadLetterURL     string
	ReceiveWait       time.Duration
	VisibilityTimeout time.Duration
}

// visibilitySeconds rounds d up to whole seconds. SQS reads 0 as "visible
// again now", so a positive timeout never goes below one second.
func visibilitySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 1
	}
	return int32((d + time.Second - 1) / time.Second)
}

type SQSQueue struct {
	client SQSAPI
	opts   SQSOptions
}

func NewSQSQueue(client SQSAPI, opts SQSOptions) *SQSQueue {
	return &SQSQueue{client: client, opts: opts}
}

func (q *SQSQueue) Enqueue(ctx context.Context, m Message) error {
	_, body, err := Encode(m)
	if err != nil {
		return err
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.opts.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(m.Kind()))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 || max > sqsMaxBatch {
		max = sqsMaxBatch
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.opts.QueueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(q.opts.ReceiveWait / time.Second),
		VisibilityTimeout:   visibilitySeconds(q.opts.VisibilityTimeout),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	res := make([]*Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		attempt := 1
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				attempt = n
			}
		}
		res = append(res, newDelivery(aws.ToString(m.MessageId), []byte(aws.ToString(m.Body)), attempt, aws.ToString(m.ReceiptHandle)))
	}
	return res, nil
}

func (q *SQSQueue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.opts.QueueURL),
		ReceiptHandle: aws.String(d.receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete %s: %w", d.ID, err)
	}
	return nil
}

func (q *SQSQueue) ExtendVisibility(ctx context.Context, d *Delivery, timeout time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.opts.QueueURL),
		ReceiptHandle:     aws.String(d.receipt),
		VisibilityTimeout: visibilitySeconds(timeout),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility %s: %w", d.ID, err)
	}
	return nil
}

func (q *SQSQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	if q.opts.DeadLetterURL == "" {
		return fmt.Errorf("dead-letter %s: %w", d.ID, ErrNoDeadLetterQueue)
	}

	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.opts.DeadLetterURL),
		MessageBody: aws.String(string(d.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"reason":  {DataType: aws.String("String"), StringValue: aws.String(reason)},
			"attempt": {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(d.Attempt))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs dead-letter send %s: %w", d.ID, err)
	}
	return q.Ack(ctx, d)
}

// Match-event fan-out. Delivery (push/email) happens out of process; the
// core only enqueues the fact that a match completed.
package app

import (
	"context"
	"encoding/json"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/kiyohachi/matching-app/app/models"
)

// MatchNotifier receives both sides of a freshly committed mutual match.
type MatchNotifier interface {
	NotifyMatch(ctx context.Context, a, b models.Declaration) error
}

type matchEvent struct {
	Type      string    `json:"type"`
	InviteID  string    `json:"invite_id"`
	UserIDs   []string  `json:"user_ids"`
	MatchedAt time.Time `json:"matched_at"`
}

// SQSNotifier enqueues match events for the notification worker.
type SQSNotifier struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSNotifier(ctx context.Context, queueURL string) (*SQSNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &SQSNotifier{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: queueURL,
	}, nil
}

func (n *SQSNotifier) NotifyMatch(ctx context.Context, a, b models.Declaration) error {
	body, err := json.Marshal(matchEvent{
		Type:      "mutual_match",
		InviteID:  a.InviteID,
		UserIDs:   []string{a.UserID, b.UserID},
		MatchedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &n.queueURL,
		MessageBody: aws.String(string(body)),
	})
	return err
}

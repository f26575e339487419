// Package gateway wraps the single outbound dependency of the send
// pipeline: a process-wide AWS SES client.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// Kind distinguishes a pre-send build failure from a provider-reported one.
type Kind int

const (
	KindBuild Kind = iota
	KindSdk
)

// SendError is the typed error returned by Send.
type SendError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *SendError) Error() string {
	prefix := "build"
	if e.Kind == KindSdk {
		prefix = "sdk"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *SendError) Unwrap() error { return e.Err }

// Client sends mail through AWS SES. The zero value is unusable; build one
// with New.
type Client struct {
	region   string
	sesOnce  func() *sesv2.Client
}

// New returns a Client whose underlying SES handle is created lazily, once,
// on the first call to Send — mirroring this service's lazy-singleton
// pattern for shared outbound handles.
func New(region string) *Client {
	c := &Client{region: region}
	c.sesOnce = sync.OnceValue(func() *sesv2.Client {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
		if err != nil {
			cfg = aws.Config{Region: region}
		}
		return sesv2.NewFromConfig(cfg)
	})
	return c
}

// Send issues one SES SendEmail call and returns the provider message id.
// The SES client multiplexes its own HTTP transport, so Send needs no
// per-call locking.
func (c *Client) Send(ctx context.Context, from, to, subject, htmlBody string) (string, error) {
	client := c.sesOnce()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	resp, err := client.SendEmail(ctx, input)
	if err != nil {
		return "", &SendError{Kind: KindSdk, Msg: "send_email", Err: err}
	}
	if resp.MessageId == nil {
		return "", nil
	}
	return *resp.MessageId, nil
}

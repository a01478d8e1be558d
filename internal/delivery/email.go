package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/pkg/logger"
)

// sesAPI is the slice of the SES v2 client the transport uses.
// Tests substitute a fake.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailTransport sends email notifications via AWS SES using the SDK v2.
type EmailTransport struct {
	cfg      appconfig.EmailConfig
	timeout  time.Duration
	tracking string
	dir      directory.Directory
	client   sesAPI
}

// NewEmailTransport creates an SES email transport. Initializes the AWS
// SDK client if credentials are provided.
func NewEmailTransport(cfg appconfig.EmailConfig, del appconfig.DeliveryConfig, dir directory.Directory) *EmailTransport {
	t := &EmailTransport{
		cfg:      cfg,
		timeout:  cfg.Timeout(),
		tracking: del.TrackingBaseURL,
		dir:      dir,
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		)
		if err != nil {
			log.Printf("[Email] Warning: failed to initialize AWS config: %v", err)
		} else {
			t.client = sesv2.NewFromConfig(awsCfg)
		}
	}

	return t
}

// Channel returns the email channel.
func (t *EmailTransport) Channel() domain.DeliveryChannel { return domain.ChannelEmail }

// ValidateConfig reports whether the SES client is ready.
func (t *EmailTransport) ValidateConfig() bool {
	return t.client != nil && t.cfg.FromEmail != ""
}

// Send delivers one notification to the user's email address.
func (t *EmailTransport) Send(ctx context.Context, n *domain.Notification) *domain.DeliveryResult {
	if t.client == nil {
		return domain.FailedResult(n.ID, domain.ChannelEmail, "email transport not configured")
	}

	addr, err := t.dir.Addresses(ctx, n.UserID)
	if err != nil {
		return domain.FailedResult(n.ID, domain.ChannelEmail, fmt.Sprintf("resolve address: %v", err))
	}
	if addr.Email == "" {
		return domain.FailedResult(n.ID, domain.ChannelEmail, fmt.Sprintf("no email address for user %s", n.UserID))
	}

	htmlBody := n.Content.HTMLBody
	if htmlBody == "" {
		htmlBody = n.Content.Body
	}
	htmlBody = trackedHTML(t.tracking, htmlBody, n, domain.ChannelEmail)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", t.cfg.FromName, t.cfg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{addr.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(n.Content.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
					Text: &types.Content{Data: aws.String(n.Content.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("notification_id"), Value: aws.String(n.ID)},
			{Name: aws.String("notification_type"), Value: aws.String(string(n.Type))},
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.client.SendEmail(callCtx, input)
	if err != nil {
		logger.Error("email send failed", "notification_id", n.ID, "email", addr.Email, "error", err.Error())
		return domain.FailedResult(n.ID, domain.ChannelEmail, err.Error())
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}

	logger.Info("email sent", "notification_id", n.ID, "email", addr.Email, "provider_id", messageID)
	return sentResult(n.ID, domain.ChannelEmail, messageID)
}

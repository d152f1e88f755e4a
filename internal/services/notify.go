package services

import (
  "context"
  "fmt"
  "os"

  "github.com/sendgrid/sendgrid-go"
  "github.com/sendgrid/sendgrid-go/helpers/mail"
  twilio "github.com/twilio/twilio-go"
  openapi "github.com/twilio/twilio-go/rest/api/v2010"

  "github.com/marketbay/marketbay-backend/internal/logger"
)

// Notification is the dispatcher's input: a type selecting the channel and
// a payload of channel-specific fields.
type Notification struct {
  Type    string            // "email" | "sms"
  Payload map[string]string // email: to, subject, text, html; sms: to, body
}

type NotificationService interface {
  Dispatch(ctx context.Context, n Notification) (string, error)
}

type notificationService struct {
  log        *logger.Logger
  email      *sendgrid.Client
  fromEmail  string
  sms        *twilio.RestClient
  fromNumber string
}

func NewNotificationService(log *logger.Logger) (NotificationService, error) {
  serviceLog := log.With("service", "NotificationService")

  apiKey := os.Getenv("SENDGRID_API_KEY")
  if apiKey == "" {
    return nil, fmt.Errorf("Missing SENDGRID_API_KEY environment variable")
  }
  fromEmail := os.Getenv("SENDGRID_FROM_EMAIL")
  if fromEmail == "" {
    serviceLog.Warn("SENDGRID_FROM_EMAIL not set; using fallback no-reply@marketbay.dev")
    fromEmail = "no-reply@marketbay.dev"
  }

  ns := &notificationService{
    log:       serviceLog,
    email:     sendgrid.NewSendClient(apiKey),
    fromEmail: fromEmail,
  }

  // SMS is optional; without Twilio credentials the dispatcher is
  // email-only.
  accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
  authToken := os.Getenv("TWILIO_AUTH_TOKEN")
  fromNumber := os.Getenv("TWILIO_FROM_NUMBER")
  if accountSid != "" && authToken != "" && fromNumber != "" {
    ns.sms = twilio.NewRestClientWithParams(twilio.ClientParams{
      Username: accountSid,
      Password: authToken,
    })
    ns.fromNumber = fromNumber
  } else {
    serviceLog.Warn("Twilio env variables not fully set; SMS notifications disabled")
  }

  return ns, nil
}

func (ns *notificationService) Dispatch(ctx context.Context, n Notification) (string, error) {
  switch n.Type {
  case "email":
    return ns.sendEmail(ctx, n.Payload)
  case "sms":
    return ns.sendSMS(ctx, n.Payload)
  default:
    return "", fmt.Errorf("unknown notification type %q", n.Type)
  }
}

func (ns *notificationService) sendEmail(ctx context.Context, payload map[string]string) (string, error) {
  from := mail.NewEmail("MarketBay", ns.fromEmail)
  to := mail.NewEmail("", payload["to"])
  message := mail.NewSingleEmail(from, payload["subject"], to, payload["text"], payload["html"])
  response, err := ns.email.SendWithContext(ctx, message)
  if err != nil {
    ns.log.Warn("Sendgrid email send failed", "error", err)
    return "", err
  }
  if response.StatusCode >= 400 {
    ns.log.Warn("Sendgrid email send rejected", "status", response.StatusCode, "body", response.Body)
    return "", fmt.Errorf("sendgrid rejected email: status %d", response.StatusCode)
  }
  ns.log.Info("Successfully sent email via Sendgrid", "to", payload["to"], "status", response.StatusCode)
  return fmt.Sprintf("email sent to %s", payload["to"]), nil
}

func (ns *notificationService) sendSMS(ctx context.Context, payload map[string]string) (string, error) {
  if ns.sms == nil {
    return "", fmt.Errorf("SMS notifications are not configured")
  }
  params := &openapi.CreateMessageParams{}
  params.SetTo(payload["to"])
  params.SetFrom(ns.fromNumber)
  params.SetBody(payload["body"])

  resp, err := ns.sms.Api.CreateMessage(params)
  if err != nil {
    ns.log.Warn("Failed to send SMS via Twilio", "error", err)
    return "", err
  }
  ns.log.Info("Successfully sent SMS via Twilio", "to", payload["to"], "sid", *resp.Sid)
  return fmt.Sprintf("sms sent to %s", payload["to"]), nil
}

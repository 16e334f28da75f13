package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/stockripper/agentd/internal/llm"
)

const defaultGraphURL = "https://graph.microsoft.com/v1.0"

// MailConfig holds the delegated Graph credentials used by send_email.
type MailConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RefreshToken string
	// Sender sends from another mailbox the user may send as. Empty sends
	// from the signed-in user.
	Sender string
	// GraphURL and TokenURL override the Microsoft endpoints.
	GraphURL string
	TokenURL string
}

// Mailer sends mail as the signed-in user through Microsoft Graph.
type Mailer struct {
	sendURL string
	client  *http.Client
}

// NewMailer builds a Graph client that refreshes its access token from the
// configured refresh token as needed.
func NewMailer(ctx context.Context, cfg MailConfig) (*Mailer, error) {
	if cfg.ClientID == "" || cfg.RefreshToken == "" {
		return nil, errors.New("mail: client id and refresh token are required")
	}
	endpoint := microsoft.AzureADEndpoint(cfg.TenantID)
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: cfg.TokenURL}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{"https://graph.microsoft.com/Mail.Send", "offline_access"},
	}
	graphURL := strings.TrimRight(cfg.GraphURL, "/")
	if graphURL == "" {
		graphURL = defaultGraphURL
	}
	sendURL := graphURL + "/me/sendMail"
	if sender := strings.TrimSpace(cfg.Sender); sender != "" {
		sendURL = graphURL + "/users/" + url.PathEscape(sender) + "/sendMail"
	}
	return &Mailer{
		sendURL: sendURL,
		client:  oauth2.NewClient(ctx, oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})),
	}, nil
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
	CcRecipients []graphRecipient `json:"ccRecipients"`
}

func recipients(addresses []string) []graphRecipient {
	out := make([]graphRecipient, 0, len(addresses))
	for _, a := range addresses {
		var r graphRecipient
		r.EmailAddress.Address = a
		out = append(out, r)
	}
	return out
}

// RegisterEmail adds send_email.
func RegisterEmail(r *Registry, m *Mailer) {
	r.Register(llm.ToolDefinition{
		Name:        "send_email",
		Description: "Send an e-mail from the configured mailbox.",
		InputSchema: objectSchema(map[string]any{
			"to_recipients": stringArrayProperty("Primary recipient addresses."),
			"cc_recipients": stringArrayProperty("CC recipient addresses."),
			"subject":       stringProperty("Subject line."),
			"body":          stringProperty("Plain text body."),
		}, "to_recipients", "subject", "body"),
	}, ExecutorFunc(m.send))
}

func (m *Mailer) send(ctx context.Context, input map[string]any) (string, error) {
	to := stringListArg(input, "to_recipients")
	if len(to) == 0 {
		return "", errors.New("at least one recipient address is required in \"to_recipients\"")
	}
	subject := stringArg(input, "subject")
	if subject == "" {
		return "", errors.New("subject is required")
	}
	body, _ := input["body"].(string)
	if strings.TrimSpace(body) == "" {
		return "", errors.New("body is required")
	}

	var msg graphMessage
	msg.Subject = subject
	msg.Body.ContentType = "Text"
	msg.Body.Content = body
	msg.ToRecipients = recipients(to)
	msg.CcRecipients = recipients(stringListArg(input, "cc_recipients"))
	payload, err := json.Marshal(map[string]any{"message": msg})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.sendURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("send mail: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return jsonResult(map[string]string{"message": "E-mail sent", "subject": subject})
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var errMissingSESMessageID = errors.New("ses message_id not found")

// allowedSubscribeHostSuffix restricts the subscription-confirmation
// auto-GET to AWS SNS endpoints, guarding against SSRF via an attacker
// controlled SubscribeURL.
const allowedSubscribeHostSuffix = ".amazonaws.com"

func isAllowedSubscribeHost(host string) bool {
	return strings.HasPrefix(host, "sns.") && strings.HasSuffix(host, allowedSubscribeHostSuffix)
}

type snsEnvelope struct {
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
	MessageId    string `json:"MessageId"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageId string `json:"messageId"`
	} `json:"mail"`
}

func (a *API) handleEventResults(w http.ResponseWriter, r *http.Request) {
	msgType := r.Header.Get("x-amz-sns-message-type")
	if msgType != "Notification" && msgType != "SubscriptionConfirmation" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid sns message type"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read body"})
		return
	}

	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to parse message"})
		return
	}

	if msgType == "SubscriptionConfirmation" {
		a.confirmSubscription(r.Context(), env.SubscribeURL)
		writeJSON(w, http.StatusOK, map[string]any{"status": "subscription_confirmation_required"})
		return
	}

	if err := a.processNotification(r.Context(), env); err != nil {
		a.Log.Warn("sns notification not applied", zap.String("sns_message_id", env.MessageId), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) confirmSubscription(ctx context.Context, subscribeURL string) {
	u, err := url.Parse(subscribeURL)
	if err != nil || u.Scheme != "https" || !isAllowedSubscribeHost(u.Hostname()) {
		a.Log.Warn("refusing to auto-confirm subscription to disallowed host", zap.String("url", subscribeURL))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		a.Log.Warn("building subscription confirmation request failed", zap.Error(err))
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.Log.Warn("subscription confirmation request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	a.Log.Info("subscription confirmed", zap.Int("status", resp.StatusCode))
}

func (a *API) processNotification(ctx context.Context, env snsEnvelope) error {
	var ses sesNotification
	if err := json.Unmarshal([]byte(env.Message), &ses); err != nil {
		return err
	}
	if ses.Mail.MessageId == "" {
		return errMissingSESMessageID
	}

	requestID, err := a.Store.GetRequestIDByMessageID(ctx, ses.Mail.MessageId)
	if err != nil {
		return err
	}
	return a.Store.AppendResult(ctx, requestID, ses.NotificationType, []byte(env.Message))
}

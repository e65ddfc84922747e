package stellar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/stellar/go-stellar-sdk/strkey"

	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

var (
	ErrNotFound       = errors.New("subscription not found")
	ErrInvalidAccount = errors.New("invalid stellar account")
	ErrInvalidWebhook = errors.New("webhook url must be an absolute http(s) url")
	ErrForbidden      = errors.New("account is not watched by the user")
)

// SubscriptionStore is the persistence the subscription API needs.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, s *domain.StellarSubscription) (int64, error)
	FindSubscription(ctx context.Context, id int64) (*domain.StellarSubscription, error)
	SubscriptionsByUser(ctx context.Context, userID int64) ([]domain.StellarSubscription, error)
	UserWatchesAccount(ctx context.Context, userID int64, account string) (bool, error)
	SetSubscriptionActive(ctx context.Context, id int64, active bool) error
	DeleteSubscription(ctx context.Context, userID, id int64) (bool, error)
	Events(ctx context.Context, account string, limit, offset int64) ([]domain.StellarEvent, error)
}

// Subscription is the API view. Secret is only set in the create response.
type Subscription struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	WebhookURL string    `json:"webhookUrl"`
	EventTypes []string  `json:"eventTypes"`
	Active     bool      `json:"active"`
	Secret     string    `json:"secret,omitempty"`
	Created    time.Time `json:"created"`
}

func SubscriptionView(s *domain.StellarSubscription) Subscription {
	v := Subscription{ID: s.ID, Account: s.Account, WebhookURL: s.WebhookURL, Active: s.Active, Created: s.Created, EventTypes: []string{}}
	for _, t := range strings.Split(s.EventTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			v.EventTypes = append(v.EventTypes, t)
		}
	}
	return v
}

type Service struct {
	store SubscriptionStore
}

func NewService(store SubscriptionStore) *Service {
	return &Service{store: store}
}

// Subscribe registers a webhook for an account. The returned secret signs every delivery.
func (s *Service) Subscribe(ctx context.Context, userID int64, account, webhookURL string, eventTypes []string) (*Subscription, error) {
	if !strkey.IsValidEd25519PublicKey(account) {
		return nil, ErrInvalidAccount
	}
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidWebhook
	}
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	types := slices.Compact(slices.Sorted(slices.Values(trimAll(eventTypes))))
	sub := &domain.StellarSubscription{
		UserID:     userID,
		Account:    account,
		WebhookURL: webhookURL,
		Secret:     "whsec_" + hex.EncodeToString(secret),
		EventTypes: strings.Join(types, ","),
		Active:     true,
	}
	if _, err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	v := SubscriptionView(sub)
	v.Secret = sub.Secret
	return &v, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]Subscription, error) {
	subs, err := s.store.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]Subscription, 0, len(subs))
	for i := range subs {
		views = append(views, SubscriptionView(&subs[i]))
	}
	return views, nil
}

// SetActive pauses or resumes a subscription owned by the user.
func (s *Service) SetActive(ctx context.Context, userID, id int64, active bool) (*Subscription, error) {
	sub, err := s.store.FindSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.UserID != userID {
		return nil, ErrNotFound
	}
	if err := s.store.SetSubscriptionActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	sub.Active = active
	v := SubscriptionView(sub)
	return &v, nil
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	ok, err := s.store.DeleteSubscription(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Events lists stored events of an account the user watches. Admins see every account.
func (s *Service) Events(ctx context.Context, userID int64, admin bool, account string, limit, offset int64) ([]domain.StellarEvent, error) {
	if !strkey.IsValidEd25519PublicKey(account) {
		return nil, ErrInvalidAccount
	}
	if !admin {
		ok, err := s.store.UserWatchesAccount(ctx, userID, account)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrForbidden
		}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Events(ctx, account, limit, offset)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

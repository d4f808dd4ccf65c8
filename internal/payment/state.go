package payment

import (
	"errors"
	"fmt"
	"time"

	"vibe-planner/internal/entitlement"

	"github.com/golang-jwt/jwt/v5"
)

const stateTTL = time.Hour

// State binds a checkout to the chat and tier that started it. It travels
// in the callback URL as a signed token.
type State struct {
	ChatID    int64
	Tier      entitlement.TierID
	Reference string
}

type stateClaims struct {
	ChatID    int64  `json:"chat_id"`
	Tier      string `json:"tier"`
	Reference string `json:"ref"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks HS256 state tokens.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string, now func() time.Time) *StateSigner {
	if now == nil {
		now = time.Now
	}
	return &StateSigner{secret: []byte(secret), now: now}
}

func (s *StateSigner) Sign(st State) (string, error) {
	now := s.now()
	claims := &stateClaims{
		ChatID:    st.ChatID,
		Tier:      string(st.Tier),
		Reference: st.Reference,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *StateSigner) Parse(tokenString string) (State, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return State{}, fmt.Errorf("invalid payment state: %w", err)
	}
	if !token.Valid || claims.Reference == "" || claims.ChatID == 0 {
		return State{}, errors.New("invalid payment state")
	}
	return State{ChatID: claims.ChatID, Tier: entitlement.TierID(claims.Tier), Reference: claims.Reference}, nil
}

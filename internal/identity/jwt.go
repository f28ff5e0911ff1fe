// Пакет identity определяет текущего пользователя по Bearer-токену (JWT, HS256)
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"OrderListService/internal/model"
)

// ErrUnauthenticated: токен отсутствует, просрочен или подписан чужим ключом
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims содержит id пользователя в sub, отображаемое имя в name и роль
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Provider проверяет токены и выпускает их (выпуск нужен утилитам и тестам)
type Provider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewProvider создаёт провайдер; пустой issuer отключает проверку iss
func NewProvider(secret []byte, issuer string) *Provider {
	return &Provider{secret: secret, issuer: issuer, now: time.Now}
}

// Actor извлекает пользователя из заголовка Authorization
func (p *Provider) Actor(r *http.Request) (model.Actor, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return model.Actor{}, fmt.Errorf("%w: authorization header missing", ErrUnauthenticated)
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return model.Actor{}, fmt.Errorf("%w: bearer token expected", ErrUnauthenticated)
	}
	return p.Parse(strings.TrimSpace(token))
}

// Parse проверяет подпись и срок действия токена
func (p *Provider) Parse(tokenString string) (model.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return model.Actor{}, fmt.Errorf("%w: subject missing", ErrUnauthenticated)
	}
	return model.Actor{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// Issue выпускает токен для пользователя со сроком действия ttl
func (p *Provider) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	now := p.now()
	claims := &Claims{
		Name: actor.Name,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

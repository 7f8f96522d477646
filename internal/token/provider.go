package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"

	"github.com/sirupsen/logrus"
)

const apiVersion = "2022-08-01"

// AuthError means the credential chain could not produce a token. Fatal,
// never retried by the pipeline.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// AccountNotFoundError means the configured account resolved to empty id or
// location. This is a configuration error, not a transient fault.
type AccountNotFoundError struct {
	AccountName string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("video intelligence account %q not found; check subscription id, resource group and account name", e.AccountName)
}

// Provider acquires bearer credentials for the video intelligence control
// plane and scoped access tokens for data plane operations.
type Provider interface {
	GetAccessToken(ctx context.Context, permission types.TokenPermission, scope types.TokenScope) (types.AccessToken, error)
	GetAccountMetadata(ctx context.Context) (types.Account, error)
}

type provider struct {
	log            *logrus.Entry
	httpClient     *http.Client
	armURL         string
	subscriptionID string
	resourceGroup  string
	accountName    string
	staticARMToken string

	// Scoped tokens are reused until near expiry instead of reissued per
	// operation. The upstream window is one hour; refresh five minutes early.
	tokenTTL  time.Duration
	tokenSkew time.Duration

	mu     sync.Mutex
	cached map[string]types.AccessToken
}

// New builds a Provider from env. ARM_ACCESS_TOKEN short-circuits the
// managed identity exchange for local runs.
func New(log *logger.Logger, httpClient *http.Client) (Provider, error) {
	sub := strings.TrimSpace(os.Getenv("VI_SUBSCRIPTION_ID"))
	rg := strings.TrimSpace(os.Getenv("VI_RESOURCE_GROUP"))
	acct := strings.TrimSpace(os.Getenv("VI_ACCOUNT_NAME"))
	if sub == "" || rg == "" || acct == "" {
		return nil, errors.New("VI_SUBSCRIPTION_ID, VI_RESOURCE_GROUP and VI_ACCOUNT_NAME must be set")
	}

	armURL := strings.TrimSpace(os.Getenv("VI_ARM_URL"))
	if armURL == "" {
		armURL = "https://management.azure.com"
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &provider{
		log:            log.WithComponent("token"),
		httpClient:     httpClient,
		armURL:         strings.TrimRight(armURL, "/"),
		subscriptionID: sub,
		resourceGroup:  rg,
		accountName:    acct,
		staticARMToken: strings.TrimSpace(os.Getenv("ARM_ACCESS_TOKEN")),
		tokenTTL:       time.Hour,
		tokenSkew:      5 * time.Minute,
		cached:         map[string]types.AccessToken{},
	}, nil
}

func (p *provider) accountURL() string {
	return fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s/providers/Microsoft.VideoIndexer/accounts/%s",
		p.armURL, p.subscriptionID, p.resourceGroup, p.accountName)
}

// armToken resolves the control plane bearer token, either from env or the
// instance metadata identity endpoint.
func (p *provider) armToken(ctx context.Context) (string, error) {
	if p.staticARMToken != "" {
		return p.staticARMToken, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("IDENTITY_ENDPOINT"))
	if endpoint == "" {
		endpoint = "http://169.254.169.254/metadata/identity/oauth2/token"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", &AuthError{Op: "identity request", Err: err}
	}
	q := req.URL.Query()
	q.Set("api-version", "2018-02-01")
	q.Set("resource", p.armURL)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Metadata", "true")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Op: "identity request", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Op: "identity request", Err: fmt.Errorf("http %d: %s", resp.StatusCode, raw)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", &AuthError{Op: "identity decode", Err: err}
	}
	if body.AccessToken == "" {
		return "", &AuthError{Op: "identity decode", Err: errors.New("empty access_token")}
	}
	return body.AccessToken, nil
}

func (p *provider) GetAccountMetadata(ctx context.Context) (types.Account, error) {
	arm, err := p.armToken(ctx)
	if err != nil {
		return types.Account{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.accountURL()+"?api-version="+apiVersion, nil)
	if err != nil {
		return types.Account{}, &AuthError{Op: "get account", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+arm)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Account{}, &AuthError{Op: "get account", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return types.Account{}, &AuthError{Op: "get account", Err: fmt.Errorf("http %d: %s", resp.StatusCode, raw)}
	}

	var body struct {
		Location   string `json:"location"`
		Properties struct {
			AccountID string `json:"accountId"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return types.Account{}, &AuthError{Op: "get account decode", Err: err}
	}

	if strings.TrimSpace(body.Location) == "" || strings.TrimSpace(body.Properties.AccountID) == "" {
		return types.Account{}, &AccountNotFoundError{AccountName: p.accountName}
	}

	p.log.WithFields(logrus.Fields{
		"account_id": body.Properties.AccountID,
		"location":   body.Location,
	}).Debug("resolved account metadata")

	return types.Account{ID: body.Properties.AccountID, Location: body.Location}, nil
}

func (p *provider) GetAccessToken(ctx context.Context, permission types.TokenPermission, scope types.TokenScope) (types.AccessToken, error) {
	key := string(permission) + "/" + string(scope)

	p.mu.Lock()
	if tok, ok := p.cached[key]; ok && !tok.Expired(p.tokenTTL, p.tokenSkew) {
		p.mu.Unlock()
		return tok, nil
	}
	p.mu.Unlock()

	arm, err := p.armToken(ctx)
	if err != nil {
		return types.AccessToken{}, err
	}

	payload, err := json.Marshal(map[string]string{
		"permissionType": string(permission),
		"scope":          string(scope),
	})
	if err != nil {
		return types.AccessToken{}, &AuthError{Op: "generate token encode", Err: err}
	}

	url := p.accountURL() + "/generateAccessToken?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return types.AccessToken{}, &AuthError{Op: "generate token", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+arm)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.AccessToken{}, &AuthError{Op: "generate token", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return types.AccessToken{}, &AuthError{Op: "generate token", Err: fmt.Errorf("http %d: %s", resp.StatusCode, raw)}
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return types.AccessToken{}, &AuthError{Op: "generate token decode", Err: err}
	}
	if body.AccessToken == "" {
		return types.AccessToken{}, &AuthError{Op: "generate token", Err: errors.New("empty accessToken in response")}
	}

	tok := types.AccessToken{
		Value:      body.AccessToken,
		Scope:      scope,
		Permission: permission,
		IssuedAt:   time.Now(),
	}

	p.mu.Lock()
	p.cached[key] = tok
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"scope": scope, "permission": permission}).Debug("issued access token")
	return tok, nil
}

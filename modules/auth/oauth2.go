package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/guarzo/authsession/common"
)

var _ common.TokenRefresher = (*OAuth2Authenticator)(nil)

// OAuth2Authenticator refreshes through the OAuth2 refresh-token grant.
// Token endpoint 5xx responses are retried with exponential backoff.
type OAuth2Authenticator struct {
	Bearer
	config     *oauth2.Config
	httpClient common.HttpClient
}

// NewOAuth2Authenticator uses httpClient for token endpoint calls; nil selects a default client.
func NewOAuth2Authenticator(config *oauth2.Config, httpClient common.HttpClient) *OAuth2Authenticator {
	if httpClient == nil {
		httpClient = common.NewHttpClient("", nil)
	}
	return &OAuth2Authenticator{config: config, httpClient: httpClient}
}

func (o *OAuth2Authenticator) Refresh(ctx context.Context, current *Credential) (Credential, error) {
	if current == nil || current.RefreshToken == "" {
		return Credential{}, ErrNoRefreshToken
	}
	tok, err := o.RefreshToken(ctx, current.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	cred := FromOAuth2(tok)
	if cred.RefreshToken == "" {
		cred.RefreshToken = current.RefreshToken
	}
	return cred, nil
}

// RefreshToken exchanges refreshToken for a new token.
func (o *OAuth2Authenticator) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return fetchToken(ctx, o.httpClient, func(ctx context.Context) (*oauth2.Token, error) {
		// an empty access token forces the token source to hit the endpoint
		return o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

// ClientCredentialsAuthenticator obtains credentials with the client-credentials grant.
type ClientCredentialsAuthenticator struct {
	Bearer
	config     *clientcredentials.Config
	httpClient common.HttpClient
}

func NewClientCredentialsAuthenticator(config *clientcredentials.Config, httpClient common.HttpClient) *ClientCredentialsAuthenticator {
	if httpClient == nil {
		httpClient = common.NewHttpClient("", nil)
	}
	return &ClientCredentialsAuthenticator{config: config, httpClient: httpClient}
}

func (cc *ClientCredentialsAuthenticator) Refresh(ctx context.Context, _ *Credential) (Credential, error) {
	tok, err := fetchToken(ctx, cc.httpClient, cc.config.Token)
	if err != nil {
		return Credential{}, err
	}
	return FromOAuth2(tok), nil
}

func fetchToken(ctx context.Context, httpClient common.HttpClient, fetch func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient.Client())

	result, err := httpClient.RetryWithExponentialBackoff(ctx, func() (interface{}, error) {
		tok, err := fetch(ctx)
		if err != nil {
			return nil, tokenError(err)
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*oauth2.Token), nil
}

// tokenError exposes the token endpoint status as a *common.HTTPError.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		httpErr := &common.HTTPError{StatusCode: re.Response.StatusCode, Body: re.Body}
		return fmt.Errorf("token endpoint: %w: %w", httpErr, re)
	}
	return fmt.Errorf("token endpoint: %w", err)
}

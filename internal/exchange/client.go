package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultHost is the production exchange host.
	DefaultHost = "www.bitstamp.net"

	apiVersion  = "v2"
	contentType = "application/x-www-form-urlencoded"

	// maxRetry bounds retries on bad responses and signature mismatches.
	// The first attempt is not counted, so a call makes at most
	// maxRetry+1 round trips.
	maxRetry = 3

	headerAuth            = "X-Auth"
	headerAuthSignature   = "X-Auth-Signature"
	headerAuthNonce       = "X-Auth-Nonce"
	headerAuthTimestamp   = "X-Auth-Timestamp"
	headerAuthVersion     = "X-Auth-Version"
	headerServerSignature = "X-Server-Auth-Signature"
)

// Client performs authenticated and unauthenticated calls against the
// exchange REST API. Each call is an independent request/response exchange;
// no state is kept between calls beyond the underlying connection pool.
type Client struct {
	http   *resty.Client
	host   string
	key    string
	secret string
	log    *logrus.Entry
}

// NewClient creates a client for the given host. key and secret may be empty,
// in which case only public endpoints are available and private calls fail
// with ErrCredentialsMissing.
func NewClient(host, key, secret string) *Client {
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimSuffix(host, "/")

	// A scheme is only expected in tests; production hosts are bare and
	// get https. The signing string always carries the bare host.
	baseURL := host
	if !strings.Contains(host, "://") {
		baseURL = "https://" + host
	} else {
		host = host[strings.Index(host, "://")+3:]
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(0) // retry policy lives here, not in the transport

	return &Client{
		http:   rc,
		host:   host,
		key:    key,
		secret: secret,
		log:    logrus.WithField("component", "exchange_client"),
	}
}

// HasCredentials reports whether private endpoints are usable.
func (c *Client) HasCredentials() bool {
	return c.key != "" && c.secret != ""
}

// SendPublic issues an unauthenticated GET and returns the raw body. Non-200
// replies are retried up to maxRetry times with the identical request before
// surfacing a BadResponseError with the last status code.
func (c *Client) SendPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		req := c.http.R().SetContext(ctx)
		if len(params) > 0 {
			req.SetQueryParamsFromValues(params)
		}

		resp, err := req.Get(path)
		if err != nil {
			return nil, errors.Wrapf(err, "public request %s", path)
		}

		if resp.StatusCode() != http.StatusOK {
			if attempt < maxRetry {
				c.log.Warnf("server returned bad response (status %d). Retrying...", resp.StatusCode())
				continue
			}
			return nil, &BadResponseError{StatusCode: resp.StatusCode()}
		}

		return resp.Body(), nil
	}
}

// SendPrivate issues a signed POST and returns the raw body after verifying
// the server's counter-signature. It fails immediately with
// ErrCredentialsMissing when no credentials are loaded. Bad responses and
// signature mismatches are each retried up to maxRetry times; every attempt
// carries a freshly generated nonce and timestamp.
func (c *Client) SendPrivate(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if !c.HasCredentials() {
		return nil, ErrCredentialsMissing
	}

	// The signed payload always leads with offset=1, matching the wire
	// format the server verifies against.
	payload := "offset=1"
	if len(params) > 0 {
		payload += "&" + params.Encode()
	}

	authHeader := "BITSTAMP " + c.key

	for attempt := 0; ; attempt++ {
		nonce := uuid.NewString()
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

		// Canonical signing string: key, verb, host, path, query,
		// content type, nonce, timestamp, version, payload. The query
		// component is empty because all parameters travel in the body.
		msg := authHeader + http.MethodPost + c.host + path + "" +
			contentType + nonce + timestamp + apiVersion + payload
		signature := strings.ToUpper(c.hmacHex(msg))

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader(headerAuth, authHeader).
			SetHeader(headerAuthSignature, signature).
			SetHeader(headerAuthNonce, nonce).
			SetHeader(headerAuthTimestamp, timestamp).
			SetHeader(headerAuthVersion, apiVersion).
			SetHeader("Content-Type", contentType).
			SetBody(payload).
			Post(path)
		if err != nil {
			return nil, errors.Wrapf(err, "private request %s", path)
		}

		if resp.StatusCode() != http.StatusOK {
			if attempt < maxRetry {
				c.log.Warnf("server returned bad response (status %d). Retrying...", resp.StatusCode())
				continue
			}
			return nil, &BadResponseError{StatusCode: resp.StatusCode()}
		}

		if err := c.verifyResponse(resp, nonce, timestamp); err != nil {
			if attempt < maxRetry {
				c.log.Warnf("%v. Retrying...", err)
				continue
			}
			return nil, err
		}

		return resp.Body(), nil
	}
}

// verifyResponse recomputes the response HMAC over nonce, timestamp, the
// response content type and body, and compares it against the server's
// counter-signature header.
func (c *Client) verifyResponse(resp *resty.Response, nonce, timestamp string) error {
	serverSig := resp.Header().Get(headerServerSignature)
	stringToSign := nonce + timestamp + resp.Header().Get("Content-Type") + string(resp.Body())
	want := c.hmacHex(stringToSign)
	if !hmac.Equal([]byte(want), []byte(serverSig)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (c *Client) hmacHex(msg string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliercoder/grab"
	"go.uber.org/zap"

	"github.com/s2coastalbot/s2coastalbot/common"
	"github.com/s2coastalbot/s2coastalbot/service"
	"github.com/s2coastalbot/s2coastalbot/service/log"
)

const (
	cdseNodesURL = "https://download.dataspace.copernicus.eu/odata/v1/Products(%s)/Nodes"
	cdseAuthURL  = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"

	// DefaultMaxAttempts is the retry budget per asset
	DefaultMaxAttempts = 9
	// DefaultBackoffBase is the first retry delay, doubled on each attempt
	DefaultBackoffBase = 2 * time.Second
)

// CDSE downloads product assets from the Copernicus Data Space Ecosystem
// OData API, walking the product node tree and filtering leaf nodes by name.
type CDSE struct {
	user  string
	pword string

	token  string
	expire time.Time

	// MaxAttempts per asset (DefaultMaxAttempts)
	MaxAttempts int
	// BackoffBase is the initial retry delay (DefaultBackoffBase)
	BackoffBase time.Duration
	// NodesURL is the product node-tree endpoint, with one %s for the id
	NodesURL string
	// AuthURL is the openid-connect token endpoint
	AuthURL string

	sleep func(context.Context, time.Duration) error
}

// NewCDSE creates an AssetProvider for CDSE with the default retry policy.
func NewCDSE(user, pword string) *CDSE {
	return &CDSE{
		user:        user,
		pword:       pword,
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		NodesURL:    cdseNodesURL,
		AuthURL:     cdseAuthURL,
		sleep:       service.Sleep,
	}
}

// Name implements AssetProvider
func (p *CDSE) Name() string {
	return "CDSE"
}

// node is one entry of the OData product tree. Directory nodes have
// ContentLength 0 and list their children under Nodes.uri.
type node struct {
	Name          string `json:"Name"`
	ContentLength int64  `json:"ContentLength"`
	Nodes         struct {
		URI string `json:"uri"`
	} `json:"Nodes"`
}

// loadToken fetches a download token from the CDSE identity service
func (p *CDSE) loadToken(ctx context.Context) error {
	resp, err := http.PostForm(p.AuthURL,
		url.Values{
			"client_id":  {"cdse-public"},
			"username":   {p.user},
			"password":   {p.pword},
			"grant_type": {"password"}})
	if err != nil {
		return fmt.Errorf("CDSEToken.PostForm: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("CDSEToken.ReadAll: %w", err)
	}
	defer resp.Body.Close()

	token := struct {
		AccessToken string `json:"access_token"`
		Expire      int    `json:"expires_in"`
	}{}
	if err := json.Unmarshal(body, &token); err != nil {
		return fmt.Errorf("CDSEToken.Unmarshal: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("CDSEToken: token not found in %s", string(body))
	}

	p.token = token.AccessToken
	p.expire = time.Now().Add(time.Duration(token.Expire) * time.Second)
	return nil
}

// searchNodes walks the node tree under nodeURL and returns the leaf nodes
// passing the filter. Directories are always descended into.
func (p *CDSE) searchNodes(nodeURL string, filter Filter) ([]node, error) {
	body, err := service.GetBodyRetry(nodeURL, 3)
	if err != nil {
		return nil, fmt.Errorf("searchNodes: %w", err)
	}
	listing := struct {
		Result []node `json:"result"`
	}{}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("searchNodes.Unmarshal: %w (response: %s)", err, body)
	}

	var nodes []node
	for _, n := range listing.Result {
		if n.ContentLength == 0 {
			children, err := p.searchNodes(n.Nodes.URI, filter)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, children...)
		} else if filter.Match(n.Name) {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// Download implements AssetProvider
func (p *CDSE) Download(ctx context.Context, product common.Product, destDir string, filter Filter) common.DownloadResult {
	failure := common.DownloadResult{}
	if err := os.MkdirAll(destDir, 0766); err != nil {
		log.Logger(ctx).Error("CDSE: make directory", zap.String("dir", destDir), zap.Error(err))
		return failure
	}

	nodes, err := p.searchNodes(fmt.Sprintf(p.NodesURL, product.ID), filter)
	if err != nil {
		log.Logger(ctx).Error("CDSE: list product nodes", zap.String("product", product.Name()), zap.Error(err))
		return failure
	}

	result := common.DownloadResult{
		Metadata: map[string]string{"completionDate": product.CompletionDate.Format(time.RFC3339)},
	}
	for _, n := range nodes {
		localPath := filepath.Join(destDir, n.Name)

		// Already fully downloaded
		if fi, err := os.Stat(localPath); err == nil && fi.Size() == n.ContentLength {
			result.Paths = append(result.Paths, localPath)
			continue
		}

		assetURL := strings.TrimSuffix(n.Nodes.URI, "/Nodes") + "/$value"
		if err := p.downloadWithRetry(ctx, assetURL, localPath); err != nil {
			log.Logger(ctx).Error("CDSE: download asset",
				zap.String("asset", n.Name), zap.String("product", product.Name()), zap.Error(err))
			failure.Paths = result.Paths
			return failure
		}
		result.Paths = append(result.Paths, localPath)
	}

	result.Success = true
	return result
}

// downloadWithRetry fetches one asset with bounded exponential backoff.
// The delay starts at BackoffBase and doubles on each failed attempt.
func (p *CDSE) downloadWithRetry(ctx context.Context, assetURL, localPath string) error {
	var err error
	delay := p.BackoffBase
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			log.Logger(ctx).Sugar().Warnf("download attempt %d/%d failed, retrying in %v: %v",
				attempt, p.MaxAttempts, delay, err)
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		if err = p.downloadAsset(ctx, assetURL, localPath); err == nil {
			return nil
		}
		if !service.Temporary(err) {
			return err
		}
	}
	return err
}

// downloadAsset performs a single grab transfer with Bearer authentication
func (p *CDSE) downloadAsset(ctx context.Context, assetURL, localPath string) error {
	if time.Now().After(p.expire) || p.token == "" {
		if err := p.loadToken(ctx); err != nil {
			return service.MakeTemporary(fmt.Errorf("downloadAsset.%w", err))
		}
	}

	req, err := grab.NewRequest(localPath, assetURL)
	if err != nil {
		return fmt.Errorf("downloadAsset.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	req.HTTPRequest.Header.Add("Authorization", "Bearer "+p.token)

	client := grab.NewClient()
	client.HTTPClient.CheckRedirect = checkRedirectAndCopyAuth
	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		err = fmt.Errorf("downloadAsset[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 408, 429, 500, 501, 502, 503, 504:
			return service.MakeTemporary(err)
		default:
			return err
		}
	}
	return nil
}

func checkRedirectAndCopyAuth(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if auth, ok := via[0].Header["Authorization"]; ok {
		req.Header.Add("Authorization", auth[0])
	}
	return nil
}

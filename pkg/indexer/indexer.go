// Package indexer queries an asset-indexing service for the fungible tokens
// and NFTs held by an address.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mwallet/pkg/log"
	"mwallet/pkg/metrics"
	"mwallet/pkg/models"
)

var DefaultBaseURL = "https://deep-index.moralis.io/api/v2.2"

// MaxNFTPages bounds cursor pagination on the NFT endpoint.
const MaxNFTPages = 5

// Provider lists holdings of an address on a chain.
type Provider interface {
	Tokens(ctx context.Context, addr common.Address, chainID string) ([]models.Token, error)
	NFTs(ctx context.Context, addr common.Address, chainID string) ([]models.NFT, error)
}

// Client is a Provider backed by the Moralis Web3 Data API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient}
}

type tokenJSON struct {
	TokenAddress string  `json:"token_address"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Decimals     flexInt `json:"decimals"`
	Balance      string  `json:"balance"`
	PossibleSpam bool    `json:"possible_spam"`
}

type nftJSON struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	Name         string `json:"name"`
	PossibleSpam bool   `json:"possible_spam"`
	Media        *struct {
		Category        string `json:"category"`
		MimeType        string `json:"mimetype"`
		MediaCollection *struct {
			High *struct {
				URL string `json:"url"`
			} `json:"high"`
		} `json:"media_collection"`
	} `json:"media"`
}

type nftPage struct {
	Cursor string    `json:"cursor"`
	Result []nftJSON `json:"result"`
}

// Tokens returns ERC-20 balances, spam included and flagged.
func (c *Client) Tokens(ctx context.Context, addr common.Address, chainID string) ([]models.Token, error) {
	start := time.Now()
	var raw []tokenJSON
	err := c.get(ctx, "/"+addr.Hex()+"/erc20", url.Values{"chain": {chainID}}, &raw)
	metrics.ObserveRPC("indexer_erc20", err)
	if err != nil {
		return nil, err
	}

	tokens := make([]models.Token, 0, len(raw))
	for _, t := range raw {
		bal, err := decimal.NewFromString(t.Balance)
		if err != nil {
			log.Sync.Debug().Str("token", t.TokenAddress).Msg("skipping token with unparseable balance")
			continue
		}
		tokens = append(tokens, models.Token{
			Address:  t.TokenAddress,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: int(t.Decimals),
			Balance:  bal.Shift(-int32(t.Decimals)),
			Spam:     t.PossibleSpam,
		})
	}
	log.Sync.Debug().Int("count", len(tokens)).Dur("took", time.Since(start)).Msg("indexer tokens")
	return tokens, nil
}

// NFTs returns NFTs with their media, following the cursor up to MaxNFTPages.
func (c *Client) NFTs(ctx context.Context, addr common.Address, chainID string) ([]models.NFT, error) {
	q := url.Values{"chain": {chainID}, "media_items": {"true"}}
	var nfts []models.NFT
	for page := 0; page < MaxNFTPages; page++ {
		var p nftPage
		err := c.get(ctx, "/"+addr.Hex()+"/nft", q, &p)
		metrics.ObserveRPC("indexer_nft", err)
		if err != nil {
			return nil, err
		}
		for _, n := range p.Result {
			nft := models.NFT{
				TokenAddress: n.TokenAddress,
				TokenID:      n.TokenID,
				Name:         n.Name,
				Spam:         n.PossibleSpam,
			}
			if n.Media != nil {
				nft.MediaType = n.Media.Category
				if nft.MediaType == "" {
					nft.MediaType = n.Media.MimeType
				}
				if n.Media.MediaCollection != nil && n.Media.MediaCollection.High != nil {
					nft.MediaURL = n.Media.MediaCollection.High.URL
				}
			}
			nfts = append(nfts, nft)
		}
		if p.Cursor == "" {
			break
		}
		q.Set("cursor", p.Cursor)
	}
	return nfts, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: indexer API key is not configured", models.ErrNetwork)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: indexer: %v", models.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: indexer: %v", models.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrChainUnsupported, apiMessage(body, resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: indexer returned %s", models.ErrNetwork, apiMessage(body, resp.Status))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode indexer response: %v", models.ErrNetwork, err)
	}
	return nil
}

func apiMessage(body []byte, status string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return status
}

// flexInt accepts both 18 and "18".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return errors.New("decimals: " + err.Error())
	}
	*f = flexInt(n)
	return nil
}

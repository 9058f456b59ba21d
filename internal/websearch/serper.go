package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries the serper.dev Google search API.
type Serper struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func (s *Serper) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	body, err := json.Marshal(map[string]any{"q": q, "num": k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient(s.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("serper decode: %w", err)
	}
	var out []Result
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

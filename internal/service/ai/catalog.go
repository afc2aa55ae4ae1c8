package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
)

const maxCatalogBytes = 4 << 20

// ListModels fetches the model catalog. It never fails: any error is logged
// and an empty catalog is returned.
func (c *Client) ListModels(ctx context.Context, baseURL, apiKey string) []chat.ModelInfo {
	models, err := c.fetchModels(ctx, baseURL, apiKey)
	if err != nil {
		log.Printf("[ai] list models failed for %s: %v", baseURL, err)
		return []chat.ModelInfo{}
	}
	return models
}

// fetchModels 直接请求 /models，保留 go-openai 结构体中没有的 name 等字段。
func (c *Client) fetchModels(ctx context.Context, baseURL, apiKey string) ([]chat.ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential(apiKey))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("read models body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return ParseModels(body)
}

// ParseModels decodes an OpenAI style {"data": [...]} model list.
func ParseModels(body []byte) ([]chat.ModelInfo, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid models payload")
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, errors.New("models payload has no data array")
	}

	models := make([]chat.ModelInfo, 0, len(data.Array()))
	data.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		name := item.Get("name").String()
		if name == "" {
			name = id
		}
		models = append(models, chat.ModelInfo{
			ID:      id,
			Name:    name,
			OwnedBy: item.Get("owned_by").String(),
			Created: item.Get("created").Int(),
		})
		return true
	})

	return models, nil
}

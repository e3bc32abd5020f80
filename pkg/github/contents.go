package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// fileContents is the contents API response for a single file.
type fileContents struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	Size     int    `json:"size"`
}

// ReadFileAtRef fetches a file's content at a specific ref (branch,
// tag, or commit SHA).
func (c *Client) ReadFileAtRef(ctx context.Context, path, ref string) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", c.RepoPath(), path, url.QueryEscape(ref))

	data, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to read %s at %s: %w", path, ref, err)
	}

	var file fileContents
	if err := json.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("failed to parse contents response for %s: %w", path, err)
	}
	if file.Type != "file" {
		return "", fmt.Errorf("%s at %s is a %s, not a file", path, ref, file.Type)
	}
	return decodeFileContent(&file)
}

// decodeFileContent handles the contents API encodings. The API base64
// encodes file bodies with embedded newlines.
func decodeFileContent(file *fileContents) (string, error) {
	switch file.Encoding {
	case "base64":
		raw := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, file.Content)
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return "", fmt.Errorf("failed to decode file content: %w", err)
		}
		return string(decoded), nil
	case "", "none":
		return file.Content, nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", file.Encoding)
	}
}

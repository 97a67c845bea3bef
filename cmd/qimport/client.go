package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"questionnaire_backend/internal/importer"

	"github.com/go-resty/resty/v2"
)

// apiResponse 服务端统一响应
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type adminClient struct {
	http  *resty.Client
	token string
}

func newAdminClient(baseURL string) *adminClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Accept", "application/json")
	return &adminClient{http: client}
}

func (c *adminClient) Login(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("--username and --password are required with --server")
	}
	var out apiResponse
	resp, err := c.http.R().
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		SetError(&out).
		Post("/api/auth/login")
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("login failed: %s (status %d)", out.Message, resp.StatusCode())
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil {
		return fmt.Errorf("unexpected login response: %w", err)
	}
	c.token = data.Token
	c.http.SetAuthToken(c.token)
	return nil
}

// UploadCSV 上传目录中的三个 CSV 到 /api/admin/import-csv
func (c *adminClient) UploadCSV(dir string) (json.RawMessage, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetFiles(map[string]string{
			"questionnaires": filepath.Join(dir, importer.FileQuestionnaires),
			"questions":      filepath.Join(dir, importer.FileQuestions),
			"junction":       filepath.Join(dir, importer.FileJunctions),
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/admin/import-csv")
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("import rejected: %s (status %d)", out.Message, resp.StatusCode())
	}
	return out.Data, nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

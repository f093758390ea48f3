// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ta-content-pipeline/internal/config"
	"ta-content-pipeline/pkg/log"
)

// 分块索引的 mapping。embedding 不固定 dims，由第一篇写入的文档决定维度。
const chunkIndexMapping = `{
	"mappings": {
		"properties": {
			"vector_id": { "type": "keyword" },
			"content_unit_id": { "type": "keyword" },
			"chunk_index": { "type": "integer" },
			"chunk_text": { "type": "text" },
			"embedding": {
				"type": "dense_vector",
				"index": true,
				"similarity": "cosine"
			},
			"subject": { "type": "keyword" },
			"grade_band": { "type": "keyword" },
			"topic_path": { "type": "keyword" },
			"title": { "type": "text" },
			"updated_at": { "type": "date" }
		}
	}
}`

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(chunkIndexMapping)),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocument 以给定 ID 索引单个文档，同 ID 的文档会被覆盖。
func IndexDocument(ctx context.Context, client *elasticsearch.Client, indexName, id string, doc interface{}) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: id,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index document %s: %s", id, res.Status())
	}
	return nil
}

// DeleteByQuery 删除匹配 query 的文档，返回删除的数量。
func DeleteByQuery(ctx context.Context, client *elasticsearch.Client, indexName string, query map[string]interface{}) (int64, error) {
	body, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return 0, err
	}

	req := esapi.DeleteByQueryRequest{
		Index:   []string{indexName},
		Body:    bytes.NewReader(body),
		Refresh: esapi.BoolPtr(true),
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按条件删除文档出错: %s", res.String())
		return 0, fmt.Errorf("failed to delete by query: %s", res.Status())
	}

	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode delete_by_query response: %w", err)
	}
	return out.Deleted, nil
}

// Refresh 刷新索引，使之前写入的文档可被检索。
func Refresh(ctx context.Context, client *elasticsearch.Client, indexName string) error {
	req := esapi.IndicesRefreshRequest{Index: []string{indexName}}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to refresh index %s: %s", indexName, res.Status())
	}
	return nil
}

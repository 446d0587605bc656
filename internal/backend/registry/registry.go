// Package registry implements the blob-registry backend adapter against the
// OCI distribution v2 API. A record is stored as a content-addressed blob
// referenced by an image manifest tagged with an escaped form of the key.
// Version snapshots are separate manifests tagged "{key}--{label}".
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/devrev/omnistore/internal/codec"
	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

const (
	manifestMediaType = "application/vnd.oci.image.manifest.v1+json"
	configMediaType   = "application/vnd.omnistore.record.v1+json"

	keyAnnotation     = "com.devrev.omnistore.key"
	createdAnnotation = "com.devrev.omnistore.created"

	// versionSeparator joins an escaped key and an escaped version label.
	// The escape alphabet never produces two adjacent dashes, so the
	// separator is unambiguous.
	versionSeparator = "--"

	// maxTagLength is the registry tag limit after escaping
	maxTagLength = 128
)

// Adapter is the OCI registry backend adapter
type Adapter struct {
	name    string
	baseURL string
	repo    string
	client  *http.Client
	logger  *zap.Logger
}

// Config holds registry adapter configuration
type Config struct {
	Name       string
	URL        string
	Repository string
	Timeout    time.Duration
}

// New creates a registry adapter. Connectivity is not probed here: the
// health prober owns liveness.
func New(cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.InvalidArgument("registry URL is required", nil)
	}
	if cfg.Name == "" {
		cfg.Name = "registry"
	}
	if cfg.Repository == "" {
		cfg.Repository = "omnistore/records"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		repo:    cfg.Repository,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Name implements backend.Backend
func (a *Adapter) Name() string { return a.name }

// EscapeTag maps an arbitrary key to a valid registry tag reversibly.
// Lowercase alphanumerics, '.' and '_' pass through; every other byte
// becomes '-' followed by two lowercase hex digits. The result always
// starts with "k." so the tag begins with an allowed character.
func EscapeTag(key string) string {
	var b strings.Builder
	b.WriteString("k.")
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "-%02x", c)
		}
	}
	return b.String()
}

// UnescapeTag reverses EscapeTag. Returns false for tags not produced by it.
func UnescapeTag(tag string) (string, bool) {
	if !strings.HasPrefix(tag, "k.") {
		return "", false
	}
	tag = tag[2:]
	var b strings.Builder
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if c != '-' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(tag) {
			return "", false
		}
		decoded, err := hex.DecodeString(tag[i+1 : i+3])
		if err != nil {
			return "", false
		}
		b.WriteByte(decoded[0])
		i += 2
	}
	return b.String(), true
}

func (a *Adapter) tagFor(key string) (string, error) {
	tag := EscapeTag(key)
	if len(tag) > maxTagLength {
		return "", errors.Rejected(a.name, fmt.Sprintf("key %q exceeds the registry tag limit after escaping", key), nil)
	}
	return tag, nil
}

func (a *Adapter) versionTagFor(key, label string) (string, error) {
	tag := EscapeTag(key) + versionSeparator + EscapeTag(label)
	if len(tag) > maxTagLength {
		return "", errors.Rejected(a.name, fmt.Sprintf("key %q and version label exceed the registry tag limit", key), nil)
	}
	return tag, nil
}

type manifest struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaType     string             `json:"mediaType"`
	Config        manifestDescriptor `json:"config"`
	Layers        []json.RawMessage  `json:"layers"`
	Annotations   map[string]string  `json:"annotations,omitempty"`
}

type manifestDescriptor struct {
	MediaType string `json:"mediaType"`
	Size      int    `json:"size"`
	Digest    string `json:"digest"`
}

func (a *Adapter) do(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.InternalError("failed to build registry request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.ConnectionFailed(a.name, "registry request failed", err)
	}
	return resp, nil
}

// statusErr maps an unexpected HTTP status to the error taxonomy: 4xx means
// the registry understood and refused (rejected), 5xx means it is unwell
// (connection-class, triggers failover).
func (a *Adapter) statusErr(op string, status int) error {
	msg := fmt.Sprintf("%s returned status %d", op, status)
	if status >= 400 && status < 500 {
		return errors.Rejected(a.name, msg, nil)
	}
	return errors.ConnectionFailed(a.name, msg, nil)
}

// pushBlob uploads data as a content-addressed blob and returns its digest
func (a *Adapter) pushBlob(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := "sha256:" + hex.EncodeToString(sum[:])

	startURL := fmt.Sprintf("%s/v2/%s/blobs/uploads/", a.baseURL, a.repo)
	resp, err := a.do(ctx, http.MethodPost, startURL, nil, nil)
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", a.statusErr("blob upload start", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.ConnectionFailed(a.name, "registry returned no upload location", nil)
	}
	if strings.HasPrefix(location, "/") {
		location = a.baseURL + location
	}

	sep := "?"
	if strings.Contains(location, "?") {
		sep = "&"
	}
	uploadURL := location + sep + "digest=" + digest
	resp, err = a.do(ctx, http.MethodPut, uploadURL, data, map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", a.statusErr("blob upload", resp.StatusCode)
	}
	return digest, nil
}

func (a *Adapter) pushManifest(ctx context.Context, tag, key string, blobSize int, digest string) error {
	m := manifest{
		SchemaVersion: 2,
		MediaType:     manifestMediaType,
		Config: manifestDescriptor{
			MediaType: configMediaType,
			Size:      blobSize,
			Digest:    digest,
		},
		Layers: []json.RawMessage{},
		Annotations: map[string]string{
			keyAnnotation:     key,
			createdAnnotation: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	body, err := json.Marshal(m)
	if err != nil {
		return errors.InternalError("failed to encode manifest", err)
	}

	url := fmt.Sprintf("%s/v2/%s/manifests/%s", a.baseURL, a.repo, tag)
	resp, err := a.do(ctx, http.MethodPut, url, body, map[string]string{
		"Content-Type": manifestMediaType,
	})
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return a.statusErr("manifest push", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) getManifest(ctx context.Context, tag string) (*manifest, error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", a.baseURL, a.repo, tag)
	resp, err := a.do(ctx, http.MethodGet, url, nil, map[string]string{
		"Accept": manifestMediaType,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.KeyNotFound(tag).WithBackend(a.name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusErr("manifest get", resp.StatusCode)
	}

	var m manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, errors.ConnectionFailed(a.name, "failed to decode manifest", err)
	}
	return &m, nil
}

func (a *Adapter) fetchBlob(ctx context.Context, digest string) ([]byte, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", a.baseURL, a.repo, digest)
	resp, err := a.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusErr("blob fetch", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionFailed(a.name, "failed to read blob", err)
	}
	return data, nil
}

func (a *Adapter) storeAt(ctx context.Context, tag, key string, rec model.Record) error {
	blob, err := codec.Encode(rec)
	if err != nil {
		return errors.Rejected(a.name, "record is not serializable", err)
	}
	digest, err := a.pushBlob(ctx, blob)
	if err != nil {
		return err
	}
	return a.pushManifest(ctx, tag, key, len(blob), digest)
}

func (a *Adapter) loadAt(ctx context.Context, tag, key string) (model.Record, error) {
	m, err := a.getManifest(ctx, tag)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.KeyNotFound(key).WithBackend(a.name)
		}
		return nil, err
	}
	if m.Config.Digest == "" {
		return nil, errors.ConnectionFailed(a.name, "manifest has no config digest", nil)
	}
	blob, err := a.fetchBlob(ctx, m.Config.Digest)
	if err != nil {
		return nil, err
	}
	rec, err := codec.Decode(blob)
	if err != nil {
		return nil, errors.InternalError("stored blob is not a valid record", err)
	}
	return rec, nil
}

// Store implements backend.Backend
func (a *Adapter) Store(ctx context.Context, key string, rec model.Record) error {
	tag, err := a.tagFor(key)
	if err != nil {
		return err
	}
	return a.storeAt(ctx, tag, key, rec)
}

// Load implements backend.Backend
func (a *Adapter) Load(ctx context.Context, key string) (model.Record, error) {
	tag, err := a.tagFor(key)
	if err != nil {
		return nil, err
	}
	return a.loadAt(ctx, tag, key)
}

// Delete implements backend.Backend. Blob garbage collection is the
// registry's concern; deleting the manifest unlinks the record.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	tag, err := a.tagFor(key)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", a.baseURL, a.repo, tag)
	resp, err := a.do(ctx, http.MethodDelete, url, nil, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNotFound:
		return nil
	default:
		return a.statusErr("manifest delete", resp.StatusCode)
	}
}

func (a *Adapter) listTags(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/v2/%s/tags/list", a.baseURL, a.repo)
	resp, err := a.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A repository with no pushes yet reports 404
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusErr("tags list", resp.StatusCode)
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.ConnectionFailed(a.name, "failed to decode tags list", err)
	}
	return body.Tags, nil
}

// ListKeys implements backend.Backend. Version manifests are excluded.
func (a *Adapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	tags, err := a.listTags(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, tag := range tags {
		if strings.Contains(tag, versionSeparator) {
			continue
		}
		key, ok := UnescapeTag(tag)
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// StoreVersion implements backend.Backend
func (a *Adapter) StoreVersion(ctx context.Context, key, label string, rec model.Record) error {
	tag, err := a.versionTagFor(key, label)
	if err != nil {
		return err
	}
	return a.storeAt(ctx, tag, key, rec)
}

// LoadVersion implements backend.Backend
func (a *Adapter) LoadVersion(ctx context.Context, key, label string) (model.Record, error) {
	if label == "" {
		versions, err := a.ListVersions(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, errors.KeyNotFound(key).WithBackend(a.name)
		}
		label = versions[0].Label
	}
	tag, err := a.versionTagFor(key, label)
	if err != nil {
		return nil, err
	}
	return a.loadAt(ctx, tag, key)
}

// ListVersions implements backend.Backend. Timestamps come from the manifest
// creation annotation, one fetch per version.
func (a *Adapter) ListVersions(ctx context.Context, key string) ([]model.VersionInfo, error) {
	tags, err := a.listTags(ctx)
	if err != nil {
		return nil, err
	}

	versionPrefix := EscapeTag(key) + versionSeparator
	var out []model.VersionInfo
	for _, tag := range tags {
		if !strings.HasPrefix(tag, versionPrefix) {
			continue
		}
		label, ok := UnescapeTag(tag[len(versionPrefix):])
		if !ok {
			continue
		}
		info := model.VersionInfo{Label: label}
		if m, err := a.getManifest(ctx, tag); err == nil {
			if created, ok := m.Annotations[createdAnnotation]; ok {
				if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
					info.Timestamp = ts
				}
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// HealthCheck implements backend.Backend: GET /v2/ per the distribution spec
func (a *Adapter) HealthCheck(ctx context.Context) error {
	resp, err := a.do(ctx, http.MethodGet, a.baseURL+"/v2/", nil, nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
		return a.statusErr("version check", resp.StatusCode)
	}
	return nil
}

// Close implements backend.Backend
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

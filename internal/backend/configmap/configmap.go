// Package configmap implements the cluster-configuration backend adapter on
// the Kubernetes API. Each record becomes one ConfigMap whose name is a
// reversible DNS-1123 escape of the key; the original key travels in an
// annotation so listings can return it verbatim. Version snapshots are
// separate ConfigMaps named "{key}--{label}".
package configmap

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/devrev/omnistore/internal/codec"
	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

const (
	appLabel  = "app.kubernetes.io/managed-by"
	appValue  = "omnistore"
	typeLabel = "omnistore.devrev.com/type"

	typeRecord  = "record"
	typeVersion = "version"

	keyAnnotation     = "omnistore.devrev.com/key"
	labelAnnotation   = "omnistore.devrev.com/version-label"
	createdAnnotation = "omnistore.devrev.com/created"

	// nameSeparator joins an escaped key and an escaped version label. The
	// escape alphabet never emits two adjacent dashes, so it cannot collide.
	nameSeparator = "--"

	// maxNameLength is the DNS-1123 subdomain limit
	maxNameLength = 253

	// snapshotField holds a version snapshot as one canonical JSON document
	snapshotField = "snapshot"
)

// Adapter is the Kubernetes ConfigMap backend adapter
type Adapter struct {
	name      string
	baseURL   string
	namespace string
	token     string
	client    *http.Client
	logger    *zap.Logger
}

// Config holds ConfigMap adapter configuration
type Config struct {
	Name      string
	APIServer string
	Namespace string
	Token     string
	Timeout   time.Duration
}

// New creates a ConfigMap adapter. Connectivity is not probed here: the
// health prober owns liveness.
func New(cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.APIServer == "" {
		return nil, errors.InvalidArgument("kubernetes API server URL is required", nil)
	}
	if cfg.Name == "" {
		cfg.Name = "configmap"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.APIServer, "/"),
		namespace: cfg.Namespace,
		token:     cfg.Token,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}, nil
}

// Name implements backend.Backend
func (a *Adapter) Name() string { return a.name }

// EscapeName maps an arbitrary key to a DNS-1123-safe name fragment
// reversibly. Lowercase alphanumerics pass through; every other byte becomes
// '-' followed by two lowercase hex digits.
func EscapeName(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "-%02x", c)
		}
	}
	return b.String()
}

// UnescapeName reverses EscapeName. Returns false for names not produced
// by it.
func UnescapeName(name string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '-' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(name) {
			return "", false
		}
		decoded, err := hex.DecodeString(name[i+1 : i+3])
		if err != nil {
			return "", false
		}
		b.WriteByte(decoded[0])
		i += 2
	}
	return b.String(), true
}

func (a *Adapter) nameFor(key string) (string, error) {
	name := "omni-" + EscapeName(key)
	if len(name) > maxNameLength {
		return "", errors.Rejected(a.name, fmt.Sprintf("key %q exceeds the ConfigMap name limit after escaping", key), nil)
	}
	return name, nil
}

func (a *Adapter) versionNameFor(key, label string) (string, error) {
	name := "omni-" + EscapeName(key) + nameSeparator + EscapeName(label)
	if len(name) > maxNameLength {
		return "", errors.Rejected(a.name, fmt.Sprintf("key %q and version label exceed the ConfigMap name limit", key), nil)
	}
	return name, nil
}

// escapeField makes a record field name safe as a ConfigMap data key.
// [a-zA-Z0-9._] pass through, everything else, '-' included, is hex-escaped
// behind a dash.
func escapeField(field string) string {
	var b strings.Builder
	for i := 0; i < len(field); i++ {
		c := field[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "-%02x", c)
		}
	}
	return b.String()
}

func unescapeField(field string) (string, bool) {
	return UnescapeName(field)
}

type objectMeta struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

type configMap struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   objectMeta        `json:"metadata"`
	Data       map[string]string `json:"data,omitempty"`
}

type configMapList struct {
	Items []configMap `json:"items"`
}

func (a *Adapter) collectionURL() string {
	return fmt.Sprintf("%s/api/v1/namespaces/%s/configmaps", a.baseURL, a.namespace)
}

func (a *Adapter) objectURL(name string) string {
	return a.collectionURL() + "/" + name
}

func (a *Adapter) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.InternalError("failed to encode API request", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errors.InternalError("failed to build API request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.ConnectionFailed(a.name, "kubernetes API request failed", err)
	}
	return resp, nil
}

func (a *Adapter) statusErr(op string, status int) error {
	msg := fmt.Sprintf("%s returned status %d", op, status)
	switch status {
	case http.StatusBadRequest, http.StatusConflict,
		http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return errors.Rejected(a.name, msg, nil)
	default:
		return errors.ConnectionFailed(a.name, msg, nil)
	}
}

func (a *Adapter) buildConfigMap(name, key, kind string, data map[string]string, extra map[string]string) configMap {
	annotations := map[string]string{
		keyAnnotation:     key,
		createdAnnotation: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		annotations[k] = v
	}
	return configMap{
		APIVersion: "v1",
		Kind:       "ConfigMap",
		Metadata: objectMeta{
			Name:      name,
			Namespace: a.namespace,
			Labels: map[string]string{
				appLabel:  appValue,
				typeLabel: kind,
			},
			Annotations: annotations,
		},
		Data: data,
	}
}

// upsert creates the ConfigMap, falling back to replace when it exists
func (a *Adapter) upsert(ctx context.Context, cm configMap) error {
	resp, err := a.do(ctx, http.MethodPost, a.collectionURL(), cm)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		// Exists: replace
	default:
		return a.statusErr("configmap create", resp.StatusCode)
	}

	resp, err = a.do(ctx, http.MethodPut, a.objectURL(cm.Metadata.Name), cm)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return a.statusErr("configmap replace", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) get(ctx context.Context, name string) (*configMap, error) {
	resp, err := a.do(ctx, http.MethodGet, a.objectURL(name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.KeyNotFound(name).WithBackend(a.name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusErr("configmap get", resp.StatusCode)
	}

	var cm configMap
	if err := json.NewDecoder(resp.Body).Decode(&cm); err != nil {
		return nil, errors.ConnectionFailed(a.name, "failed to decode ConfigMap", err)
	}
	return &cm, nil
}

func (a *Adapter) list(ctx context.Context, kind string) ([]configMap, error) {
	selector := fmt.Sprintf("%s=%s,%s=%s", appLabel, appValue, typeLabel, kind)
	listURL := a.collectionURL() + "?labelSelector=" + url.QueryEscape(selector)
	resp, err := a.do(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.statusErr("configmap list", resp.StatusCode)
	}

	var body configMapList
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.ConnectionFailed(a.name, "failed to decode ConfigMap list", err)
	}
	return body.Items, nil
}

// Store implements backend.Backend. Each record field becomes one ConfigMap
// data entry with the value in field encoding.
func (a *Adapter) Store(ctx context.Context, key string, rec model.Record) error {
	name, err := a.nameFor(key)
	if err != nil {
		return err
	}

	data := make(map[string]string, len(rec))
	for field, value := range rec {
		encoded, err := codec.EncodeField(value)
		if err != nil {
			return errors.Rejected(a.name, fmt.Sprintf("field %q is not serializable", field), err)
		}
		data[escapeField(field)] = encoded
	}

	return a.upsert(ctx, a.buildConfigMap(name, key, typeRecord, data, nil))
}

// Load implements backend.Backend
func (a *Adapter) Load(ctx context.Context, key string) (model.Record, error) {
	name, err := a.nameFor(key)
	if err != nil {
		return nil, err
	}
	cm, err := a.get(ctx, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.KeyNotFound(key).WithBackend(a.name)
		}
		return nil, err
	}

	rec := make(model.Record, len(cm.Data))
	for field, value := range cm.Data {
		original, ok := unescapeField(field)
		if !ok {
			original = field
		}
		rec[original] = codec.DecodeField(value)
	}
	return rec, nil
}

// Delete implements backend.Backend. Removing an absent key is not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	name, err := a.nameFor(key)
	if err != nil {
		return err
	}
	resp, err := a.do(ctx, http.MethodDelete, a.objectURL(name), nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNotFound:
		return nil
	default:
		return a.statusErr("configmap delete", resp.StatusCode)
	}
}

// ListKeys implements backend.Backend, returning original keys from the
// annotation rather than escaped ConfigMap names
func (a *Adapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	items, err := a.list(ctx, typeRecord)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, cm := range items {
		key, ok := cm.Metadata.Annotations[keyAnnotation]
		if !ok {
			if key, ok = UnescapeName(strings.TrimPrefix(cm.Metadata.Name, "omni-")); !ok {
				continue
			}
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// StoreVersion implements backend.Backend. Snapshots live whole in one data
// field so a version round-trips exactly regardless of field names.
func (a *Adapter) StoreVersion(ctx context.Context, key, label string, rec model.Record) error {
	name, err := a.versionNameFor(key, label)
	if err != nil {
		return err
	}
	snapshot, err := codec.Encode(rec)
	if err != nil {
		return errors.Rejected(a.name, "version snapshot is not serializable", err)
	}
	cm := a.buildConfigMap(name, key, typeVersion,
		map[string]string{snapshotField: string(snapshot)},
		map[string]string{labelAnnotation: label})
	return a.upsert(ctx, cm)
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

	name, err := a.versionNameFor(key, label)
	if err != nil {
		return nil, err
	}
	cm, err := a.get(ctx, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.KeyNotFound(key).WithBackend(a.name)
		}
		return nil, err
	}

	rec, err := codec.Decode([]byte(cm.Data[snapshotField]))
	if err != nil {
		return nil, errors.InternalError("stored snapshot is not a valid record", err)
	}
	return rec, nil
}

// ListVersions implements backend.Backend
func (a *Adapter) ListVersions(ctx context.Context, key string) ([]model.VersionInfo, error) {
	items, err := a.list(ctx, typeVersion)
	if err != nil {
		return nil, err
	}

	var out []model.VersionInfo
	for _, cm := range items {
		if cm.Metadata.Annotations[keyAnnotation] != key {
			continue
		}
		label, ok := cm.Metadata.Annotations[labelAnnotation]
		if !ok {
			continue
		}
		info := model.VersionInfo{Label: label}
		if created, ok := cm.Metadata.Annotations[createdAnnotation]; ok {
			if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
				info.Timestamp = ts
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// HealthCheck implements backend.Backend: a bounded list against the
// namespace proves both connectivity and authorization
func (a *Adapter) HealthCheck(ctx context.Context) error {
	resp, err := a.do(ctx, http.MethodGet, a.collectionURL()+"?limit=1", nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.statusErr("health check", resp.StatusCode)
	}
	return nil
}

// Close implements backend.Backend
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

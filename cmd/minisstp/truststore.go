package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minisstp/minisstp/internal/model"
)

// dirTrustStore serves PEM CA files from a directory, as referenced by the
// SSL_CERT_DIR profile option.
type dirTrustStore struct {
	dir string
}

var _ model.TrustStore = &dirTrustStore{}

func newDirTrustStore(dir string) *dirTrustStore {
	return &dirTrustStore{dir: dir}
}

// ListCACerts implements model.TrustStore.
func (ts *dirTrustStore) ListCACerts() ([]model.CACert, error) {
	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read cert dir: %w", err)
	}
	var certs []model.CACert
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".pem", ".crt", ".cer":
		default:
			continue
		}
		pem, err := os.ReadFile(filepath.Join(ts.dir, name)) //#nosec G304
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", name, err)
		}
		certs = append(certs, model.CACert{Name: name, PEM: pem})
	}
	return certs, nil
}

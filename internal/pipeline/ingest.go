package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// Manifest is the detector's output for one scope.
type Manifest struct {
	Scope      string              `json:"scope"`
	Detections []ManifestDetection `json:"detections"`
}

// ManifestDetection is one face crop. Name optionally labels the crop with a known
// student, matched against existing identities by normalized name.
type ManifestDetection struct {
	ID         string   `json:"id,omitempty"`
	ImagePath  string   `json:"image_path"`
	Confidence *float64 `json:"confidence,omitempty"`
	Name       string   `json:"name,omitempty"`
}

// LoadManifest reads a manifest file. Relative image paths are resolved against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if strings.TrimSpace(m.Scope) == "" {
		return nil, faceid.ValidationErrorf("manifest %s has no scope", path)
	}

	base := filepath.Dir(path)
	for i := range m.Detections {
		p := m.Detections[i].ImagePath
		if p == "" {
			return nil, faceid.ValidationErrorf("manifest detection %d has no image_path", i)
		}
		if !filepath.IsAbs(p) {
			m.Detections[i].ImagePath = filepath.Join(base, p)
		}
	}
	return &m, nil
}

// IngestReport summarises an Ingest run.
type IngestReport struct {
	Scope             string      `json:"scope"`
	Created           int         `json:"created"`
	Labeled           int         `json:"labeled"`
	IdentitiesCreated int         `json:"identities_created"`
	Errors            []ItemError `json:"errors,omitempty"`
}

// Ingest stores the detections of a manifest. Named detections are linked manually to
// the identity with that name, which is created when the scope has none. The scope is
// locked for the run so concurrent runs cannot create the same name twice.
func (p *Pipeline) Ingest(ctx context.Context, m *Manifest) (*IngestReport, error) {
	unlock, err := p.lockScope(ctx, m.Scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := &IngestReport{Scope: m.Scope}
	log := p.log.WithField("scope", m.Scope)
	identities := make(map[string]string) // normalized name -> identity ID

	for i, md := range m.Detections {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		d := &database.Detection{
			ID:         md.ID,
			Scope:      m.Scope,
			ImagePath:  md.ImagePath,
			Confidence: md.Confidence,
		}
		if err := p.store.CreateDetection(ctx, d); err != nil {
			id := md.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			report.Errors = append(report.Errors, itemError(id, err))
			log.WithField("detection_id", id).WithError(err).Warn("detection not ingested")
			continue
		}
		report.Created++

		if strings.TrimSpace(md.Name) == "" {
			continue
		}
		identityID, created, err := p.identityByName(ctx, m.Scope, md.Name, identities)
		if err == nil {
			err = p.store.AssignIdentity(ctx, database.Assignment{
				DetectionID: d.ID,
				IdentityID:  identityID,
				By:          database.AssignedByManual,
			})
		}
		if err != nil {
			report.Errors = append(report.Errors, itemError(d.ID, err))
			continue
		}
		if created {
			report.IdentitiesCreated++
		}
		report.Labeled++
	}

	log.WithFields(logrus.Fields{
		"created": report.Created,
		"labeled": report.Labeled,
		"failed":  len(report.Errors),
	}).Info("manifest ingested")
	return report, nil
}

func (p *Pipeline) identityByName(ctx context.Context, scope, name string, cache map[string]string) (string, bool, error) {
	key := database.NormalizeName(name)
	if id, ok := cache[key]; ok {
		return id, false, nil
	}

	existing, err := p.store.FindIdentityByName(ctx, scope, name)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		cache[key] = existing.ID
		return existing.ID, false, nil
	}

	ident, err := p.store.CreateIdentity(ctx, scope, strings.TrimSpace(name))
	if err != nil {
		return "", false, err
	}
	cache[key] = ident.ID
	return ident.ID, true, nil
}

package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/cluster"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// ClusterSummary describes one cluster and the identity it was mapped to.
type ClusterSummary struct {
	Label       int     `json:"label"`
	Size        int     `json:"size"`
	Cohesion    float64 `json:"cohesion"`
	IdentityID  string  `json:"identity_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Created     bool    `json:"created"`
}

// ClusterReport summarises a ClusterScope run.
type ClusterReport struct {
	Scope             string           `json:"scope"`
	Variant           faceid.Variant   `json:"model_variant"`
	Detections        int              `json:"detections"`
	Clusters          int              `json:"clusters"`
	Outliers          int              `json:"outliers"`
	IdentitiesCreated int              `json:"identities_created"`
	IdentitiesReused  int              `json:"identities_reused"`
	Assigned          int              `json:"assigned"`
	Summaries         []ClusterSummary `json:"summaries"`
	Errors            []ItemError      `json:"errors,omitempty"`
}

// ClusterScope clusters the embedded detections of a scope and maps every cluster to
// an identity. A cluster without identified members gets a new "Student N" identity;
// otherwise it joins the identity most of its identified members have, ties going to
// the identity of the member listed first. Unidentified members are then assigned to
// that identity. Outliers are left alone. With includeLabeled false only unidentified
// detections are clustered.
func (p *Pipeline) ClusterScope(ctx context.Context, scope string, variant faceid.Variant, opts cluster.Options, includeLabeled bool) (*ClusterReport, error) {
	spec, err := p.resolve(variant)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	unlock, err := p.lockScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

	snap, err := p.store.Snapshot(ctx, scope, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("snapshot scope %s: %w", scope, err)
	}

	var members []database.Detection
	if includeLabeled {
		members = append(members, snap.Identified...)
	}
	members = append(members, snap.Unlabeled...)

	embeddings := make([]faceid.FaceEmbedding, len(members))
	for i := range members {
		embeddings[i] = *members[i].Embedding
	}
	res, err := cluster.Cluster(embeddings, opts)
	if err != nil {
		return nil, err
	}

	report := &ClusterReport{
		Scope:      scope,
		Variant:    spec.Name,
		Detections: len(members),
		Clusters:   res.NumClusters,
		Outliers:   res.Outliers,
		Summaries:  make([]ClusterSummary, 0, res.NumClusters),
	}
	log := p.log.WithFields(logrus.Fields{"scope": scope, "variant": spec.Name})

	next, err := p.nextStudentNumber(ctx, scope)
	if err != nil {
		return nil, err
	}

	for label := 0; label < res.NumClusters; label++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		idx := res.Members(label)
		summary := ClusterSummary{Label: label, Size: len(idx), Cohesion: res.Cohesion[label]}

		identityID := majorityIdentity(members, idx)
		if identityID == "" {
			name := fmt.Sprintf("%s %d", constants.StudentNamePrefix, next)
			ident, err := p.store.CreateIdentity(ctx, scope, name)
			if err != nil {
				for _, i := range idx {
					report.Errors = append(report.Errors, itemError(members[i].ID, err))
				}
				log.WithError(err).Warn("identity not created")
				report.Summaries = append(report.Summaries, summary)
				continue
			}
			next++
			identityID = ident.ID
			summary.DisplayName = ident.DisplayName
			summary.Created = true
			report.IdentitiesCreated++
		} else {
			report.IdentitiesReused++
		}
		summary.IdentityID = identityID

		confidence := res.Cohesion[label]
		for _, i := range idx {
			d := &members[i]
			if d.Identified() {
				continue
			}
			err := p.store.AssignIdentity(ctx, database.Assignment{
				DetectionID:      d.ID,
				IdentityID:       identityID,
				By:               database.AssignedByCluster,
				Confidence:       &confidence,
				OnlyIfUnassigned: true,
			})
			if err != nil {
				report.Errors = append(report.Errors, itemError(d.ID, err))
				log.WithField("detection_id", d.ID).WithError(err).Warn("detection not assigned")
				continue
			}
			report.Assigned++
		}
		report.Summaries = append(report.Summaries, summary)
	}

	log.WithFields(logrus.Fields{
		"clusters": report.Clusters,
		"outliers": report.Outliers,
		"created":  report.IdentitiesCreated,
		"assigned": report.Assigned,
	}).Info("scope clustered")
	return report, nil
}

// majorityIdentity returns the identity held by most identified members, or "" when
// no member is identified. Ties go to the identity whose first member comes first.
func majorityIdentity(members []database.Detection, idx []int) string {
	type tally struct {
		count int
		first int
	}
	tallies := make(map[string]*tally)
	best := ""
	for _, i := range idx {
		d := &members[i]
		if !d.Identified() {
			continue
		}
		t, ok := tallies[*d.IdentityID]
		if !ok {
			t = &tally{first: i}
			tallies[*d.IdentityID] = t
		}
		t.count++
	}
	for id, t := range tallies {
		if best == "" {
			best = id
			continue
		}
		b := tallies[best]
		if t.count > b.count || (t.count == b.count && t.first < b.first) {
			best = id
		}
	}
	return best
}

// nextStudentNumber returns one more than the highest N among the scope's
// "Student N" identities.
func (p *Pipeline) nextStudentNumber(ctx context.Context, scope string) (int, error) {
	identities, err := p.store.ListIdentities(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}
	highest := 0
	prefix := constants.StudentNamePrefix + " "
	for _, ident := range identities {
		rest, ok := strings.CutPrefix(ident.DisplayName, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

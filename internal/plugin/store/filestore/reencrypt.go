package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/dataencryption"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/security"
	"github.com/chirino/companion-service/internal/tempfiles"
)

type reencryptOutcome int

const (
	outcomeRewrite reencryptOutcome = iota
	outcomeCurrent
	outcomePlain
	outcomeSkip
)

type reencryptPlan struct {
	name    string
	outcome reencryptOutcome
	data    []byte
	tmp     string
}

// ReEncryptAllData moves every private character document and the user document from
// oldKey to newKey.
//
// Phase 1 classifies each document and stages its replacement next to it: documents
// that open under oldKey are re-sealed, documents that already open under newKey are
// left alone, and plain JSON is sealed for the first time. A document that neither
// key opens aborts the run with a *CorruptedProfileError before anything is renamed.
// Phase 2 renames the staged files into place. A run interrupted during phase 2
// leaves a mix of old- and new-key documents, which a second run with the same pair
// classifies and finishes.
func (s *Store) ReEncryptAllData(ctx context.Context, oldKey, newKey string) (*registrystore.ReEncryptReport, error) {
	if newKey == "" {
		return nil, &registrystore.ValidationError{Field: "newKey", Message: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(names)+1)
	for _, name := range names {
		if !s.public[name] {
			targets = append(targets, name)
		}
	}
	targets = append(targets, userDocName)

	plans := make([]*reencryptPlan, 0, len(targets))
	discard := func() {
		for _, p := range plans {
			if p.tmp != "" {
				tempfiles.Discard(p.tmp)
			}
		}
	}
	for _, name := range targets {
		if err := ctx.Err(); err != nil {
			discard()
			return nil, err
		}
		plan, err := s.classify(name, oldKey, newKey)
		if err != nil {
			discard()
			return nil, err
		}
		if plan.data != nil {
			plan.tmp, err = tempfiles.Stage(s.dir, name+jsonExt, plan.data)
			if err != nil {
				discard()
				return nil, fmt.Errorf("stage %s: %w", name, err)
			}
		}
		plans = append(plans, plan)
	}

	report := &registrystore.ReEncryptReport{
		Rewritten:      []string{},
		AlreadyCurrent: []string{},
		PlainUpgraded:  []string{},
	}
	for i, p := range plans {
		switch p.outcome {
		case outcomeCurrent:
			report.AlreadyCurrent = append(report.AlreadyCurrent, p.name)
			continue
		case outcomeSkip:
			continue
		}
		dst := s.path(p.name, jsonExt)
		if err := tempfiles.Commit(p.tmp, dst); err != nil {
			for _, rest := range plans[i+1:] {
				if rest.tmp != "" {
					tempfiles.Discard(rest.tmp)
				}
			}
			return report, fmt.Errorf("re-encrypt %s: %w", p.name, err)
		}
		s.remember(dst, p.data)
		if p.outcome == outcomeRewrite {
			report.Rewritten = append(report.Rewritten, p.name)
		} else {
			report.PlainUpgraded = append(report.PlainUpgraded, p.name)
		}
	}

	security.RecordReencrypted("rewritten", len(report.Rewritten))
	security.RecordReencrypted("already_current", len(report.AlreadyCurrent))
	security.RecordReencrypted("plain_upgraded", len(report.PlainUpgraded))
	log.Info("Re-encrypted profile data",
		"rewritten", len(report.Rewritten),
		"alreadyCurrent", len(report.AlreadyCurrent),
		"plainUpgraded", len(report.PlainUpgraded))
	return report, nil
}

// classify decides what re-encryption does with name.json and prepares the new
// content. Documents that exist only in the legacy format are skipped; they are never
// encrypted and canonical writes shadow them.
func (s *Store) classify(name, oldKey, newKey string) (*reencryptPlan, error) {
	plan := &reencryptPlan{name: name, outcome: outcomeSkip}
	raw, err := readFile(s.path(name, jsonExt))
	if err != nil {
		return plan, err
	}
	if raw == nil {
		if _, err := os.Stat(s.path(name, txtExt)); err == nil {
			log.Warn("Private legacy profile left unencrypted; save it to convert it", "name", name)
		}
		return plan, nil
	}

	if !dataencryption.IsEncrypted(raw) {
		if !json.Valid(raw) {
			log.Warn("Skipping unreadable plain document during re-encryption", "name", name)
			return plan, nil
		}
		sealed, err := s.cipher.Encrypt(raw, newKey)
		if err != nil {
			return nil, err
		}
		plan.outcome, plan.data = outcomePlain, sealed
		return plan, nil
	}

	var oldErr error
	if oldKey != "" && oldKey != newKey {
		plain, err := s.cipher.Decrypt(raw, oldKey)
		if err == nil {
			sealed, err := s.cipher.Encrypt(plain, newKey)
			if err != nil {
				return nil, err
			}
			plan.outcome, plan.data = outcomeRewrite, sealed
			return plan, nil
		}
		oldErr = err
	}
	if _, err := s.cipher.Decrypt(raw, newKey); err == nil {
		plan.outcome = outcomeCurrent
		return plan, nil
	}
	if oldErr == nil {
		oldErr = &registrystore.DecryptionError{Reason: "no old key supplied"}
	}
	return nil, &registrystore.CorruptedProfileError{Name: name, Err: oldErr}
}

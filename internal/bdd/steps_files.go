package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chirino/companion-service/internal/cmd/rekey"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/model"
	"github.com/chirino/companion-service/internal/plugin/store/filestore"
	"github.com/chirino/companion-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		f := &fileSteps{s: s}
		ctx.Step(`^the data directory has the legacy profile "([^"]*)":$`, f.theDataDirectoryHasTheLegacyProfile)
		ctx.Step(`^the data directory has profile "([^"]*)" encrypted with password "([^"]*)":$`, f.theDataDirectoryHasEncryptedProfile)
		ctx.Step(`^the profile document "([^"]*)" should be encrypted$`, f.theProfileDocumentShouldBeEncrypted)
		ctx.Step(`^the profile document "([^"]*)" should be plain json$`, f.theProfileDocumentShouldBePlain)
		ctx.Step(`^the profile document "([^"]*)" should open with password "([^"]*)"$`, f.theProfileDocumentShouldOpenWith)
		ctx.Step(`^the profile document "([^"]*)" should not open with password "([^"]*)"$`, f.theProfileDocumentShouldNotOpenWith)
		ctx.Step(`^the profile document "([^"]*)" should not exist$`, f.theProfileDocumentShouldNotExist)
		ctx.Step(`^a re-encryption from "([^"]*)" to "([^"]*)" stopped after rewriting "([^"]*)"$`, f.aReEncryptionStoppedAfterRewriting)
		ctx.Step(`^I rekey the data directory from "([^"]*)" to "([^"]*)"$`, f.iRekeyTheDataDirectory)
		ctx.Step(`^the rekey should fail mentioning "([^"]*)"$`, f.theRekeyShouldFailMentioning)
	})
}

type fileSteps struct {
	s         *cucumber.TestScenario
	rekeyErr  error
	rekeyDone bool
}

func (f *fileSteps) documentPath(name string) string {
	return filepath.Join(f.s.DataDir, name+".json")
}

func (f *fileSteps) readDocument(name string) ([]byte, error) {
	data, err := os.ReadFile(f.documentPath(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (f *fileSteps) theDataDirectoryHasTheLegacyProfile(name string, doc *godog.DocString) error {
	return os.WriteFile(filepath.Join(f.s.DataDir, name+".txt"), []byte(doc.Content), 0o600)
}

func (f *fileSteps) theDataDirectoryHasEncryptedProfile(name, password string, doc *godog.DocString) error {
	expanded, err := f.s.Expand(doc.Content)
	if err != nil {
		return err
	}
	var payload model.Payload
	if err := json.Unmarshal([]byte(expanded), &payload); err != nil {
		return fmt.Errorf("profile payload: %w", err)
	}
	cfg := scenarioConfig(f.s)
	store, err := filestore.New(cfg.DataDir, cfg.PublicProfileNames(), scenarioCipher(f.s))
	if err != nil {
		return err
	}
	_, err = store.SaveProfile(context.Background(), name, payload, password)
	return err
}

func (f *fileSteps) theProfileDocumentShouldBeEncrypted(name string) error {
	data, err := f.readDocument(name)
	if err != nil {
		return err
	}
	if !dataencryption.IsEncrypted(data) {
		return fmt.Errorf("%s is not encrypted:\n%s", name, data)
	}
	return nil
}

func (f *fileSteps) theProfileDocumentShouldBePlain(name string) error {
	data, err := f.readDocument(name)
	if err != nil {
		return err
	}
	if dataencryption.IsEncrypted(data) || !json.Valid(data) {
		return fmt.Errorf("%s is not plain json:\n%s", name, data)
	}
	return nil
}

func (f *fileSteps) theProfileDocumentShouldOpenWith(name, password string) error {
	data, err := f.readDocument(name)
	if err != nil {
		return err
	}
	if _, err := scenarioCipher(f.s).Decrypt(data, password); err != nil {
		return fmt.Errorf("%s does not open with %q: %w", name, password, err)
	}
	return nil
}

func (f *fileSteps) theProfileDocumentShouldNotOpenWith(name, password string) error {
	data, err := f.readDocument(name)
	if err != nil {
		return err
	}
	if _, err := scenarioCipher(f.s).Decrypt(data, password); err == nil {
		return fmt.Errorf("%s unexpectedly opens with %q", name, password)
	}
	return nil
}

func (f *fileSteps) theProfileDocumentShouldNotExist(name string) error {
	if _, err := os.Stat(f.documentPath(name)); !os.IsNotExist(err) {
		return fmt.Errorf("%s still exists (err=%v)", name, err)
	}
	return nil
}

// aReEncryptionStoppedAfterRewriting leaves the directory the way an interrupted
// rename phase does: one document under the new password, the rest under the old.
func (f *fileSteps) aReEncryptionStoppedAfterRewriting(oldKey, newKey, name string) error {
	cipher := scenarioCipher(f.s)
	data, err := f.readDocument(name)
	if err != nil {
		return err
	}
	plain, err := cipher.Decrypt(data, oldKey)
	if err != nil {
		return fmt.Errorf("%s does not open with the old password: %w", name, err)
	}
	sealed, err := cipher.Encrypt(plain, newKey)
	if err != nil {
		return err
	}
	return os.WriteFile(f.documentPath(name), sealed, 0o600)
}

func (f *fileSteps) iRekeyTheDataDirectory(oldKey, newKey string) error {
	cfg := *scenarioConfig(f.s)
	report, err := rekey.Run(context.Background(), &cfg, oldKey, newKey)
	f.rekeyDone = true
	f.rekeyErr = err
	if err != nil {
		return nil
	}
	// Round-trip through JSON so scenarios can select fields by their wire names.
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	f.s.Variables["report"] = decoded
	return nil
}

func (f *fileSteps) theRekeyShouldFailMentioning(text string) error {
	if !f.rekeyDone {
		return fmt.Errorf("no rekey has been run")
	}
	if f.rekeyErr == nil {
		return fmt.Errorf("expected the rekey to fail")
	}
	if !strings.Contains(f.rekeyErr.Error(), text) {
		return fmt.Errorf("rekey error %q does not mention %q", f.rekeyErr, text)
	}
	return nil
}

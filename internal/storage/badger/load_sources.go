package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
)

// SourceFile is the on-disk definition format, TOML or YAML:
//
//	[[source]]
//	id = "county-bids"
//	listing_url = "https://..."
//
//	[[credential]]
//	id = "county-login"
//	username = "$COUNTY_USER"
//	password = "$COUNTY_PASSWORD"
//
// Credential values are plaintext (or $ENV references) and are sealed on import.
type SourceFile struct {
	Sources     []models.Source  `toml:"source" yaml:"sources"`
	Credentials []CredentialFile `toml:"credential" yaml:"credentials"`
}

// CredentialFile is a plaintext credential awaiting encryption
type CredentialFile struct {
	ID       string `toml:"id" yaml:"id"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

// SourceValidator performs checks beyond the source's own Validate, e.g. strategy options
type SourceValidator func(source *models.Source) error

// ImportResult counts what one import pass did
type ImportResult struct {
	Sources     int
	Credentials int
	Skipped     int
}

// SourceImporter loads source definitions into storage
type SourceImporter struct {
	sources     interfaces.SourceStorage
	credentials interfaces.CredentialStorage
	sealer      interfaces.CredentialSealer
	validate    SourceValidator
	logger      arbor.ILogger
}

// NewSourceImporter creates an importer. sealer may be nil, in which case files
// carrying credentials are rejected.
func NewSourceImporter(sources interfaces.SourceStorage, credentials interfaces.CredentialStorage, sealer interfaces.CredentialSealer, validate SourceValidator, logger arbor.ILogger) *SourceImporter {
	return &SourceImporter{
		sources:     sources,
		credentials: credentials,
		sealer:      sealer,
		validate:    validate,
		logger:      logger,
	}
}

// ParseSourceFile decodes a definition file by extension
func ParseSourceFile(path string) (*SourceFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file %s: %w", path, err)
	}

	var file SourceFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(content, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &file)
	default:
		return nil, fmt.Errorf("unsupported source file type: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse source file %s: %w", path, err)
	}
	return &file, nil
}

// ImportFile validates and stores every definition in one file. Invalid sources are an
// error for the whole file so a typo never half-applies.
func (i *SourceImporter) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	file, err := ParseSourceFile(path)
	if err != nil {
		return nil, err
	}

	for idx := range file.Sources {
		source := &file.Sources[idx]
		if err := source.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if i.validate != nil {
			if err := i.validate(source); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	sealed := make([]*models.Credential, 0, len(file.Credentials))
	for _, cf := range file.Credentials {
		credential, err := i.seal(cf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sealed = append(sealed, credential)
	}

	result := &ImportResult{}
	for _, credential := range sealed {
		if err := i.credentials.SaveCredential(ctx, credential); err != nil {
			return result, err
		}
		result.Credentials++
	}
	for idx := range file.Sources {
		source := &file.Sources[idx]
		if existing, err := i.sources.GetSource(ctx, source.ID); err == nil {
			source.CreatedAt = existing.CreatedAt
		}
		if err := i.sources.SaveSource(ctx, source); err != nil {
			return result, err
		}
		i.logger.Debug().Str("source", source.ID).Str("auth_mode", string(source.AuthMode)).Msg("Loaded source")
		result.Sources++
	}
	return result, nil
}

func (i *SourceImporter) seal(cf CredentialFile) (*models.Credential, error) {
	if cf.ID == "" {
		return nil, fmt.Errorf("credential ID is required")
	}
	if i.sealer == nil {
		return nil, fmt.Errorf("credential %s: no encryption key configured", cf.ID)
	}
	username := expandEnv(cf.Username)
	password := expandEnv(cf.Password)
	if username == "" || password == "" {
		return nil, fmt.Errorf("credential %s: username and password are required", cf.ID)
	}

	sealedUser, err := i.sealer.Seal(username)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", cf.ID, err)
	}
	sealedPass, err := i.sealer.Seal(password)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", cf.ID, err)
	}
	return &models.Credential{ID: cf.ID, Username: sealedUser, Password: sealedPass}, nil
}

// expandEnv resolves a whole-value $NAME reference
func expandEnv(value string) string {
	if strings.HasPrefix(value, "$") && len(value) > 1 {
		return os.Getenv(strings.TrimPrefix(value, "$"))
	}
	return value
}

// ImportDir imports every .toml/.yaml/.yml file in dir. A missing directory is not an
// error; a bad file is logged and skipped so one typo does not block startup.
func (i *SourceImporter) ImportDir(ctx context.Context, dir string) (*ImportResult, error) {
	total := &ImportResult{}
	i.logger.Debug().Str("dir", dir).Msg("Loading sources from files")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		i.logger.Debug().Str("dir", dir).Msg("Sources directory does not exist, skipping")
		return total, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return total, fmt.Errorf("failed to read sources directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
		default:
			continue
		}

		result, err := i.ImportFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			i.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping source file")
			total.Skipped++
			continue
		}
		total.Sources += result.Sources
		total.Credentials += result.Credentials
	}

	i.logger.Info().
		Int("sources", total.Sources).
		Int("credentials", total.Credentials).
		Int("skipped", total.Skipped).
		Msg("Finished loading sources from files")
	return total, nil
}

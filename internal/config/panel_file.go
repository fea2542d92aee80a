package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// PanelFile is the on-disk description of the category panel.
type PanelFile struct {
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Categories  []domain.PanelCategory `yaml:"categories"`
}

// PanelFileResult is the outcome of LoadPanelFile. It is one of PanelLoaded,
// PanelCreatedFromTemplate or PanelLoadFailed.
type PanelFileResult interface {
	panelFileResult()
}

// PanelLoaded carries a panel file that already existed and parsed cleanly.
type PanelLoaded struct {
	Path  string
	Panel PanelFile
}

// PanelCreatedFromTemplate reports that no file existed and the template was written.
type PanelCreatedFromTemplate struct {
	Path  string
	Panel PanelFile
}

// PanelLoadFailed carries the reason a panel file could not be used.
type PanelLoadFailed struct {
	Path string
	Err  error
}

func (PanelLoaded) panelFileResult()              {}
func (PanelCreatedFromTemplate) panelFileResult() {}
func (PanelLoadFailed) panelFileResult()          {}

// DefaultPanelFile is written when no panel file exists yet.
func DefaultPanelFile() PanelFile {
	return PanelFile{
		Title:       "Open a support ticket",
		Description: "Pick the category that matches your request.",
		Categories: []domain.PanelCategory{
			{Key: "general", Label: "General support", Emoji: "💬", TargetCategoryID: "REPLACE_WITH_CATEGORY_ID"},
			{Key: "billing", Label: "Billing", Emoji: "💳", TargetCategoryID: "REPLACE_WITH_CATEGORY_ID"},
			{Key: "report", Label: "Report a user", Emoji: "🚩", TargetCategoryID: "REPLACE_WITH_CATEGORY_ID"},
		},
	}
}

// LoadPanelFile reads the panel description, writing the template when the file is missing.
func LoadPanelFile(path string) PanelFileResult {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		panel := DefaultPanelFile()
		if err := writePanelFile(path, panel); err != nil {
			return PanelLoadFailed{Path: path, Err: err}
		}
		return PanelCreatedFromTemplate{Path: path, Panel: panel}
	}
	if err != nil {
		return PanelLoadFailed{Path: path, Err: fmt.Errorf("read panel file: %w", err)}
	}

	var panel PanelFile
	if err := yaml.Unmarshal(data, &panel); err != nil {
		return PanelLoadFailed{Path: path, Err: fmt.Errorf("parse panel file: %w", err)}
	}
	if err := panel.Validate(); err != nil {
		return PanelLoadFailed{Path: path, Err: err}
	}
	return PanelLoaded{Path: path, Panel: panel}
}

// Validate checks category keys are present and unique.
func (p PanelFile) Validate() error {
	if len(p.Categories) == 0 {
		return errors.New("panel file declares no categories")
	}
	seen := make(map[string]struct{}, len(p.Categories))
	for i, category := range p.Categories {
		key := strings.TrimSpace(category.Key)
		if key == "" {
			return fmt.Errorf("category %d has no key", i)
		}
		if category.TargetCategoryID == "" {
			return fmt.Errorf("category %q has no target_category_id", key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate category key %q", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func writePanelFile(path string, panel PanelFile) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create panel dir: %w", err)
		}
	}
	data, err := yaml.Marshal(panel)
	if err != nil {
		return fmt.Errorf("encode panel template: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write panel template: %w", err)
	}
	return nil
}

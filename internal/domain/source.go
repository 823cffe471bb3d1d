package domain

import (
	"fmt"
	"path"
	"strings"
)

// SourceKind identifies where a model file comes from.
type SourceKind string

const (
	SourceHuggingFace   SourceKind = "huggingface"
	SourceModelScope    SourceKind = "model_scope"
	SourceOllamaLibrary SourceKind = "ollama_library"
	SourceLocalPath     SourceKind = "local_path"
)

// Source is a tagged union over the supported source kinds. Only the
// locator fields of the active kind are set.
type Source struct {
	Kind SourceKind `json:"kind" validate:"required,oneof=huggingface model_scope ollama_library local_path"`

	HuggingFaceRepoID   string `json:"huggingface_repo_id,omitempty"`
	HuggingFaceFilename string `json:"huggingface_filename,omitempty"`

	ModelScopeModelID  string `json:"model_scope_model_id,omitempty"`
	ModelScopeFilePath string `json:"model_scope_file_path,omitempty"`

	OllamaLibraryModelName string `json:"ollama_library_model_name,omitempty"`

	LocalPath string `json:"local_path,omitempty"`
}

// Validate checks that the locator fields required by the kind are present.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceHuggingFace:
		if s.HuggingFaceRepoID == "" {
			return fmt.Errorf("huggingface source requires a repo id")
		}
	case SourceModelScope:
		if s.ModelScopeModelID == "" {
			return fmt.Errorf("model_scope source requires a model id")
		}
	case SourceOllamaLibrary:
		if s.OllamaLibraryModelName == "" {
			return fmt.Errorf("ollama_library source requires a model name")
		}
	case SourceLocalPath:
		if s.LocalPath == "" {
			return fmt.Errorf("local_path source requires a path")
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// SingleFile reports whether the transfer targets exactly one file rather
// than a directory tree.
func (s Source) SingleFile() bool {
	switch s.Kind {
	case SourceHuggingFace:
		return s.HuggingFaceFilename != ""
	case SourceModelScope:
		return s.ModelScopeFilePath != ""
	case SourceOllamaLibrary:
		return true
	case SourceLocalPath:
		return path.Ext(s.LocalPath) != ""
	}
	return false
}

// TargetFilename returns the destination filename for single-file
// transfers, or "" for directory transfers.
func (s Source) TargetFilename() string {
	switch s.Kind {
	case SourceHuggingFace:
		return s.HuggingFaceFilename
	case SourceModelScope:
		return s.ModelScopeFilePath
	}
	return ""
}

// Index returns the uniqueness key for the source, used to reject
// duplicate records for the same artifact.
func (s Source) Index() string {
	return strings.Join([]string{string(s.Kind), s.locator()}, ":")
}

func (s Source) locator() string {
	switch s.Kind {
	case SourceHuggingFace:
		if s.HuggingFaceFilename != "" {
			return s.HuggingFaceRepoID + "/" + s.HuggingFaceFilename
		}
		return s.HuggingFaceRepoID
	case SourceModelScope:
		if s.ModelScopeFilePath != "" {
			return s.ModelScopeModelID + "/" + s.ModelScopeFilePath
		}
		return s.ModelScopeModelID
	case SourceOllamaLibrary:
		return s.OllamaLibraryModelName
	case SourceLocalPath:
		return s.LocalPath
	}
	return ""
}

// String returns the readable form used in logs, e.g.
// "huggingface:org/repo/model.gguf".
func (s Source) String() string {
	return s.Index()
}

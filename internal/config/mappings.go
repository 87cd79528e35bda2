package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/adsync/internal/model"
)

// mappingEntry はマッピングファイルの1エントリ。
// 組織名は gogsOrgName / gogsOrganizationName / gogsName の順に参照する。
type mappingEntry struct {
	ActiveDirectoryName  string `yaml:"activeDirectoryName"`
	GogsOrgName          string `yaml:"gogsOrgName"`
	GogsOrganizationName string `yaml:"gogsOrganizationName"`
	GogsName             string `yaml:"gogsName"`
	GogsTeamName         string `yaml:"gogsTeamName"`
}

func (e mappingEntry) toModel() model.GroupMapping {
	org := e.GogsOrgName
	if org == "" {
		org = e.GogsOrganizationName
	}
	if org == "" {
		org = e.GogsName
	}
	return model.GroupMapping{
		DirectoryGroup: e.ActiveDirectoryName,
		OrgName:        org,
		TeamName:       e.GogsTeamName,
	}
}

type mappingFile struct {
	Mappings []mappingEntry `yaml:"mappings"`
}

// loadGroupMappings はGROUP_MAPPINGS_FILE、なければGROUP_MAPPINGSからマッピングを読み込む。
func loadGroupMappings() ([]model.GroupMapping, error) {
	if path := strings.TrimSpace(os.Getenv("GROUP_MAPPINGS_FILE")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open group mappings file: %w", err)
		}
		defer f.Close()
		return ParseMappingsYAML(f)
	}
	return ParseMappings(os.Getenv("GROUP_MAPPINGS"))
}

// ParseMappingsYAML はYAML形式のマッピング定義を読み込む。
// トップレベルは mappings キーを持つマップ、またはエントリの配列のどちらでもよい。
func ParseMappingsYAML(r io.Reader) ([]model.GroupMapping, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read group mappings: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse group mappings: %w", err)
	}

	var entries []mappingEntry
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		err = node.Decode(&entries)
	} else {
		var file mappingFile
		err = node.Decode(&file)
		entries = file.Mappings
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode group mappings: %w", err)
	}

	mappings := make([]model.GroupMapping, 0, len(entries))
	for _, e := range entries {
		mappings = append(mappings, e.toModel())
	}
	return mappings, nil
}

// ParseMappings は "ADGroup=org[:team];..." 形式のマッピング定義を読み込む。
func ParseMappings(s string) ([]model.GroupMapping, error) {
	var mappings []model.GroupMapping
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		group, target, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid group mapping %q: expected ADGroup=org[:team]", item)
		}
		org, team, _ := strings.Cut(target, ":")
		m := model.GroupMapping{
			DirectoryGroup: strings.TrimSpace(group),
			OrgName:        strings.TrimSpace(org),
			TeamName:       strings.TrimSpace(team),
		}
		if m.DirectoryGroup == "" {
			return nil, errors.New("invalid group mapping: directory group name is empty")
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

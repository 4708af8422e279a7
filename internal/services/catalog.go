package services

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

//go:embed crimes.yml
var defaultCrimesYAML []byte

// Catalog 罪行目录，加载后不可变
type Catalog struct {
	crimes []models.Crime
	byID   map[string]*models.Crime
}

type catalogFile struct {
	Crimes []models.Crime `yaml:"crimes"`
}

// LoadCatalog 从文件加载目录；path 为空时使用内置目录
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCrimesYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, oops.Code("CATALOG_READ_FAILED").With("path", path).Wrap(err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog 解析并校验 YAML 目录
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, oops.Code("CATALOG_PARSE_FAILED").Wrap(err)
	}
	return NewCatalog(file.Crimes)
}

// NewCatalog 校验罪行定义并按 tier、id 排序
func NewCatalog(crimes []models.Crime) (*Catalog, error) {
	if len(crimes) == 0 {
		return nil, oops.Code("CATALOG_INVALID").Errorf("catalog has no crimes")
	}

	sorted := make([]models.Crime, len(crimes))
	copy(sorted, crimes)
	for i := range sorted {
		if sorted[i].MinLevel == 0 {
			sorted[i].MinLevel = 1
		}
		if err := validateCrime(&sorted[i]); err != nil {
			return nil, oops.Code("CATALOG_INVALID").With("crime_id", sorted[i].ID).Wrap(err)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Tier != sorted[j].Tier {
			return sorted[i].Tier < sorted[j].Tier
		}
		return lessID(sorted[i].ID, sorted[j].ID)
	})

	byID := make(map[string]*models.Crime, len(sorted))
	for i := range sorted {
		if _, dup := byID[sorted[i].ID]; dup {
			return nil, oops.Code("CATALOG_INVALID").With("crime_id", sorted[i].ID).Errorf("duplicate crime id")
		}
		byID[sorted[i].ID] = &sorted[i]
	}

	return &Catalog{crimes: sorted, byID: byID}, nil
}

func validateCrime(c *models.Crime) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("id is required")
	case c.NerveCost <= 0:
		return fmt.Errorf("nerve_cost must be positive")
	case c.SuccessChance <= 0 || c.SuccessChance > 1:
		return fmt.Errorf("success_chance must be in (0,1]")
	case c.MinReward <= 0 || c.MinReward > c.MaxReward:
		return fmt.Errorf("reward range [%d,%d] is invalid", c.MinReward, c.MaxReward)
	case c.BaseXP < 0:
		return fmt.Errorf("base_xp must not be negative")
	case c.JailMinutes <= 0:
		return fmt.Errorf("jail_minutes must be positive")
	case c.MinLevel < 1:
		return fmt.Errorf("min_level must be at least 1")
	}
	return nil
}

// lessID 数字 id 按数值比较（"2" < "10"），其余按字典序
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// List 有序列表（副本）
func (c *Catalog) List() []models.Crime {
	out := make([]models.Crime, len(c.crimes))
	copy(out, c.crimes)
	return out
}

// Has 目录中是否存在该 id
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get 按 id 查找
func (c *Catalog) Get(id string) (*models.Crime, error) {
	crime, ok := c.byID[id]
	if !ok {
		return nil, crimeNotFound(id)
	}
	cp := *crime
	return &cp, nil
}

// 包 config：运行配置，来源依次为 默认值 → TOML 运行文件（DOTMAP_CONFIG）→ 环境变量（含 .env）
// 约束：环境变量优先级最高；数值解析失败返回带变量名的错误，不静默回退。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"dotmap/internal/census"
	"dotmap/internal/tiles"
)

// RegionPlaceholder：输入路径模板中的区域占位符
const RegionPlaceholder = "{region}"

// DefaultRegions：50 个州加哥伦比亚特区的 FIPS 编码
var DefaultRegions = []string{
	"01", "02", "04", "05", "06", "08", "09", "10", "11", "12", "13", "15",
	"16", "17", "18", "19", "20", "21", "22", "23", "24", "25", "26", "27", "28", "29", "30",
	"31", "32", "33", "34", "35", "36", "37", "38", "39", "40", "41", "42", "44", "45", "46",
	"47", "48", "49", "50", "51", "53", "54", "55", "56",
}

type Config struct {
	InputPattern string   `toml:"input_pattern"`
	Regions      []string `toml:"regions"`
	MetricsAddr  string   `toml:"metrics_addr"`
	Fields       Fields   `toml:"fields"`
	Tiles        Tiles    `toml:"tiles"`
	Run          Run      `toml:"run"`
	Sink         Sink     `toml:"sink"`
	Postgres     Postgres `toml:"postgres"`
	Redis        Redis    `toml:"redis"`
}

// Fields：源字段名与类别生成顺序
type Fields struct {
	Population string `toml:"population"`
	Region     string `toml:"region"`
	White      string `toml:"white"`
	Black      string `toml:"black"`
	Asian      string `toml:"asian"`
	Hispanic   string `toml:"hispanic"`
	Other      string `toml:"other"`
	// Categories：逗号分隔的类别顺序，空为全部
	Categories string `toml:"categories"`
}

type Tiles struct {
	Zoom           int  `toml:"zoom"`
	StrictLatitude bool `toml:"strict_latitude"`
	RollupZoom     int  `toml:"rollup_zoom"`
}

type Run struct {
	Workers       int    `toml:"workers"`
	Seed          uint64 `toml:"seed"`
	MaxAttempts   int    `toml:"max_attempts"`
	CommitEvery   int    `toml:"commit_every"`
	EscalateAfter int    `toml:"escalate_after"`
	DryRun        bool   `toml:"dry_run"`
	Force         bool   `toml:"force"`
}

type Sink struct {
	Table        string `toml:"table"`
	TileCounts   bool   `toml:"tile_counts"`
	TilePrefix   string `toml:"tile_prefix"`
	LedgerPrefix string `toml:"ledger_prefix"`
}

type Postgres struct {
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DB           string `toml:"db"`
	SSLMode      string `toml:"sslmode"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// DSN：postgres:// 连接串
func (p Postgres) DSN() string {
	dsn := "postgres://" + p.User
	if p.Password != "" {
		dsn += ":" + p.Password
	}
	return dsn + "@" + p.Host + ":" + p.Port + "/" + p.DB + "?sslmode=" + p.SSLMode
}

// Redis：Host 为空表示不使用 Redis（进程内台账、无瓦片计数）
type Redis struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

func (r Redis) Enabled() bool { return r.Host != "" }
func (r Redis) Addr() string  { return r.Host + ":" + r.Port }

// Default：逐州批处理的默认值（2010 年街区字段、缩放 21、每 1000 个要素提交）
func Default() Config {
	b := census.DefaultBinding()
	return Config{
		InputPattern: "data/census/statefile_" + RegionPlaceholder + ".shp",
		Regions:      append([]string(nil), DefaultRegions...),
		Fields: Fields{
			Population: b.Population,
			Region:     b.Region,
			White:      b.Categories[census.White],
			Black:      b.Categories[census.Black],
			Asian:      b.Categories[census.Asian],
			Hispanic:   b.Categories[census.Hispanic],
			Other:      b.Categories[census.Other],
		},
		Tiles:    Tiles{Zoom: tiles.DefaultZoom, RollupZoom: 14},
		Run:      Run{CommitEvery: 1000, EscalateAfter: 1000},
		Sink:     Sink{Table: "people_by_race", TileCounts: true, TilePrefix: "dotmap:tiles", LedgerPrefix: "dotmap:ledger"},
		Postgres: Postgres{Host: "localhost", Port: "5432", User: "postgres", DB: "dotmap", SSLMode: "disable", MaxOpenConns: 4, MaxIdleConns: 2},
		Redis:    Redis{Port: "6379"},
	}
}

// Load：读取 .env、可选 TOML 运行文件与环境变量
func Load() (Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("data/env/.env")
	return load(os.Getenv("DOTMAP_CONFIG"), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return Config{}, fmt.Errorf("config: %s: unknown keys %v", path, undec)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) getStr(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) getInt(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return
	}
	*dst = n
}

func (e *envReader) getUint(key string, dst *uint64) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return
	}
	*dst = n
}

func (e *envReader) getBool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return
	}
	*dst = b
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	e := &envReader{lookup: lookup}
	e.getStr("DOTMAP_INPUT_PATTERN", &c.InputPattern)
	if v, ok := lookup("DOTMAP_REGIONS"); ok && strings.TrimSpace(v) != "" {
		c.Regions = SplitList(v)
	}
	e.getStr("DOTMAP_METRICS_ADDR", &c.MetricsAddr)

	e.getStr("DOTMAP_FIELD_POPULATION", &c.Fields.Population)
	e.getStr("DOTMAP_FIELD_REGION", &c.Fields.Region)
	e.getStr("DOTMAP_FIELD_WHITE", &c.Fields.White)
	e.getStr("DOTMAP_FIELD_BLACK", &c.Fields.Black)
	e.getStr("DOTMAP_FIELD_ASIAN", &c.Fields.Asian)
	e.getStr("DOTMAP_FIELD_HISPANIC", &c.Fields.Hispanic)
	e.getStr("DOTMAP_FIELD_OTHER", &c.Fields.Other)
	e.getStr("DOTMAP_CATEGORIES", &c.Fields.Categories)

	e.getInt("DOTMAP_ZOOM", &c.Tiles.Zoom)
	e.getBool("DOTMAP_STRICT_LATITUDE", &c.Tiles.StrictLatitude)
	e.getInt("DOTMAP_TILE_ROLLUP_ZOOM", &c.Tiles.RollupZoom)

	e.getInt("DOTMAP_WORKERS", &c.Run.Workers)
	e.getUint("DOTMAP_SEED", &c.Run.Seed)
	e.getInt("DOTMAP_MAX_ATTEMPTS", &c.Run.MaxAttempts)
	e.getInt("DOTMAP_COMMIT_EVERY", &c.Run.CommitEvery)
	e.getInt("DOTMAP_ESCALATE_AFTER", &c.Run.EscalateAfter)
	e.getBool("DOTMAP_DRY_RUN", &c.Run.DryRun)
	e.getBool("DOTMAP_FORCE", &c.Run.Force)

	e.getStr("DOTMAP_TABLE", &c.Sink.Table)
	e.getBool("DOTMAP_TILE_COUNTS", &c.Sink.TileCounts)

	e.getStr("PG_HOST", &c.Postgres.Host)
	e.getStr("PG_PORT", &c.Postgres.Port)
	e.getStr("PG_USER", &c.Postgres.User)
	e.getStr("PG_PASSWORD", &c.Postgres.Password)
	e.getStr("PG_DB", &c.Postgres.DB)
	e.getStr("PG_SSLMODE", &c.Postgres.SSLMode)
	e.getInt("PG_MAX_OPEN_CONNS", &c.Postgres.MaxOpenConns)
	e.getInt("PG_MAX_IDLE_CONNS", &c.Postgres.MaxIdleConns)

	e.getStr("REDIS_HOST", &c.Redis.Host)
	e.getStr("REDIS_PORT", &c.Redis.Port)
	e.getStr("REDIS_PASS", &c.Redis.Password)
	e.getInt("REDIS_DB", &c.Redis.DB)
	return errors.Join(e.errs...)
}

// Validate：检查取值范围
func (c Config) Validate() error {
	var errs []error
	if !strings.Contains(c.InputPattern, RegionPlaceholder) && len(c.Regions) > 1 {
		errs = append(errs, fmt.Errorf("config: input pattern %q lacks %s but %d regions are configured", c.InputPattern, RegionPlaceholder, len(c.Regions)))
	}
	if len(c.Regions) == 0 {
		errs = append(errs, errors.New("config: no regions"))
	}
	if c.Tiles.Zoom < 1 || c.Tiles.Zoom > tiles.MaxZoom {
		errs = append(errs, fmt.Errorf("config: zoom %d outside [1, %d]", c.Tiles.Zoom, tiles.MaxZoom))
	}
	if c.Tiles.RollupZoom < 1 || c.Tiles.RollupZoom > c.Tiles.Zoom {
		errs = append(errs, fmt.Errorf("config: tile rollup zoom %d outside [1, %d]", c.Tiles.RollupZoom, c.Tiles.Zoom))
	}
	if c.Run.Workers < 0 || c.Run.MaxAttempts < 0 || c.Run.CommitEvery < 0 || c.Run.EscalateAfter < 0 {
		errs = append(errs, errors.New("config: run settings must not be negative"))
	}
	if _, err := c.CategorySet(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WithRegions：以命令行给出的区域列表覆盖配置并重新校验
func (c Config) WithRegions(regions []string) (Config, error) {
	if len(regions) == 0 {
		return c, nil
	}
	c.Regions = append([]string(nil), regions...)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// InputPath：区域对应的输入文件
func (c Config) InputPath(region string) string {
	return strings.ReplaceAll(c.InputPattern, RegionPlaceholder, region)
}

func (c Config) Binding() census.Binding {
	return census.Binding{
		Population: c.Fields.Population,
		Region:     c.Fields.Region,
		Categories: [census.NumCategories]string{
			census.White:    c.Fields.White,
			census.Black:    c.Fields.Black,
			census.Asian:    c.Fields.Asian,
			census.Hispanic: c.Fields.Hispanic,
			census.Other:    c.Fields.Other,
		},
	}
}

func (c Config) CategorySet() (census.CategorySet, error) {
	return census.ParseCategorySet(c.Fields.Categories)
}

func (c Config) TilesConfig() tiles.Config {
	tc := tiles.DefaultConfig()
	tc.Zoom = c.Tiles.Zoom
	tc.ClampLatitude = !c.Tiles.StrictLatitude
	return tc
}

// SplitList：逗号或空白分隔的列表，去掉空项
func SplitList(s string) []string {
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	out := make([]string, 0, len(f))
	for _, v := range f {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

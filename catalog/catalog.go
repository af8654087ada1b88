package catalog

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	_ "github.com/lib/pq"
	"github.com/nci/gomemcache/memcache"
	extr "github.com/nci/runoff/crawl/extractor"
)

const Schema = `
create table if not exists runoff_scenes (
	id          text primary key,
	family      text not null,
	platform    text,
	crs         text,
	acquired    timestamptz not null,
	cloud_cover numeric not null,
	xmin        double precision not null,
	ymin        double precision not null,
	xmax        double precision not null,
	ymax        double precision not null,
	doc         jsonb not null
);
create index if not exists runoff_scenes_bbox on runoff_scenes (xmin, xmax, ymin, ymax);
create index if not exists runoff_scenes_acquired on runoff_scenes (acquired);
`

// cache is the subset of the memcache client the catalog uses.
type cache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// Catalog indexes crawled scenes by footprint bounding box and time.
// Query results are cached in memcache when servers are configured.
type Catalog struct {
	db      *sql.DB
	mc      cache
	Verbose bool
}

// Open connects to Postgres. The connection is lazy, errors surface on
// the first query.
func Open(dsn string, pool, limit int, memcacheServers []string) (*Catalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(pool)
	db.SetMaxOpenConns(limit)

	c := &Catalog{db: db}
	if len(memcacheServers) > 0 {
		c.mc = memcache.New(memcacheServers...)
	}
	return c, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, Schema)
	return err
}

// Upsert stores or replaces a scene keyed by its ID.
func (c *Catalog) Upsert(ctx context.Context, scene *extr.SceneInfo) error {
	b, err := Bounds(scene.Footprint)
	if err != nil {
		return fmt.Errorf("scene %s: %v", scene.ID, err)
	}
	doc, err := json.Marshal(scene)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		`insert into runoff_scenes (id, family, platform, crs, acquired, cloud_cover, xmin, ymin, xmax, ymax, doc)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6, $7, $8, $9, $10, $11)
		on conflict (id) do update set
			family = excluded.family, platform = excluded.platform, crs = excluded.crs,
			acquired = excluded.acquired, cloud_cover = excluded.cloud_cover,
			xmin = excluded.xmin, ymin = excluded.ymin, xmax = excluded.xmax, ymax = excluded.ymax,
			doc = excluded.doc`,
		scene.ID, scene.Family, scene.Platform, scene.CRS, scene.Acquired, scene.CloudCover,
		b[0], b[1], b[2], b[3], string(doc),
	)
	return err
}

// Query selects the scenes whose footprint bounding box overlaps
// [XMin, YMin, XMax, YMax]. Zero From/Until leave the time range open,
// a negative MaxCloud disables the cloud filter.
type Query struct {
	CRS      string    `json:"crs"`
	XMin     float64   `json:"xmin"`
	YMin     float64   `json:"ymin"`
	XMax     float64   `json:"xmax"`
	YMax     float64   `json:"ymax"`
	From     time.Time `json:"from"`
	Until    time.Time `json:"until"`
	MaxCloud float64   `json:"max_cloud"`
}

func (q Query) CacheKey() string {
	buf, _ := json.Marshal(q)
	sum := md5.Sum(buf)
	return "runoff_scenes:" + hex.EncodeToString(sum[:])
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// Intersects returns the matching scenes ordered by cloud cover then ID,
// the order the coverage gate breaks ties in.
func (c *Catalog) Intersects(ctx context.Context, q Query) ([]*extr.SceneInfo, error) {
	if q.XMin > q.XMax || q.YMin > q.YMax {
		return nil, fmt.Errorf("invalid query bounds [%v %v %v %v]", q.XMin, q.YMin, q.XMax, q.YMax)
	}

	key := q.CacheKey()
	if c.mc != nil {
		if cached, err := c.mc.Get(key); err == nil {
			var scenes []*extr.SceneInfo
			if err := json.Unmarshal(cached.Value, &scenes); err == nil {
				return scenes, nil
			}
		}
	}

	var maxCloud interface{}
	if q.MaxCloud >= 0 {
		maxCloud = q.MaxCloud
	}

	// The nullif() and coalesce() noise turns unset filters into no-ops.
	rows, err := c.db.QueryContext(ctx,
		`select doc from runoff_scenes
		where xmin <= $3 and xmax >= $1 and ymin <= $4 and ymax >= $2
			and (nullif($5,'') is null or crs = $5)
			and acquired >= coalesce($6::timestamptz, '-infinity')
			and acquired <= coalesce($7::timestamptz, 'infinity')
			and ($8::numeric is null or cloud_cover <= $8::numeric)
		order by cloud_cover, id`,
		q.XMin, q.YMin, q.XMax, q.YMax, q.CRS, nullTime(q.From), nullTime(q.Until), maxCloud,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenes []*extr.SceneInfo
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		scene := &extr.SceneInfo{}
		if err := json.Unmarshal(doc, scene); err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if c.mc != nil {
		payload, err := json.Marshal(scenes)
		if err == nil {
			// memcache may not retain this anyway
			if err := c.mc.Set(&memcache.Item{Key: key, Value: payload}); err != nil && c.Verbose {
				log.Printf("catalog cache set: %v", err)
			}
		}
	}
	return scenes, nil
}

// Bounds returns [xmin, ymin, xmax, ymax] of a footprint ring.
func Bounds(ring [][]float64) ([]float64, error) {
	if len(ring) == 0 {
		return nil, fmt.Errorf("empty footprint")
	}
	b := []float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range ring {
		if len(c) < 2 {
			return nil, fmt.Errorf("coordinate with %d dimensions", len(c))
		}
		b[0] = math.Min(b[0], c[0])
		b[1] = math.Min(b[1], c[1])
		b[2] = math.Max(b[2], c[0])
		b[3] = math.Max(b[3], c[1])
	}
	return b, nil
}

package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	Pending State = "pending"
	Leased  State = "leased"
	Done    State = "done"
	Failed  State = "failed"
)

// States in the order status reports list them.
var States = []State{Pending, Leased, Done, Failed}

// Catalog selects which ISC earthquake catalog the aftershock query runs
// against.
type Catalog string

const (
	CatalogReviewed      Catalog = "rev"
	CatalogEHB           Catalog = "ehb"
	CatalogComprehensive Catalog = "comp"
)

func (c Catalog) Valid() bool {
	switch c {
	case CatalogReviewed, CatalogEHB, CatalogComprehensive:
		return true
	}
	return false
}

// Params is the full parameter tuple of one CFS run. Two submissions with
// the same tuple are the same job.
type Params struct {
	Srcmod            string  `json:"srcmod"`
	Friction          float64 `json:"coefficient_of_friction"`
	MuLambdaLame      float64 `json:"mu_lambda_lame"`
	NearFieldDistance float64 `json:"near_field_distance"`
	SpacingGrid       float64 `json:"spacing_grid"`
	ObsDepth          float64 `json:"obs_depth"`
	Days              float64 `json:"days"`
	Catalog           Catalog `json:"isc_catalog"`
}

// ApplyDefaults fills zero fields with the historical add-work defaults.
func (p *Params) ApplyDefaults() {
	if p.Friction == 0 {
		p.Friction = 0.4
	}
	if p.MuLambdaLame == 0 {
		p.MuLambdaLame = 3e10
	}
	if p.NearFieldDistance == 0 {
		p.NearFieldDistance = 100e3
	}
	if p.SpacingGrid == 0 {
		p.SpacingGrid = 10e3
	}
	if p.ObsDepth == 0 {
		p.ObsDepth = -10e3
	}
	if p.Days == 0 {
		p.Days = 100
	}
	if p.Catalog == "" {
		p.Catalog = CatalogReviewed
	}
}

func (p Params) Validate() error {
	if p.Srcmod == "" {
		return fmt.Errorf("srcmod is required")
	}
	if !p.Catalog.Valid() {
		return fmt.Errorf("unknown isc_catalog %q", p.Catalog)
	}
	if p.Days <= 0 {
		return fmt.Errorf("days must be positive, got %v", p.Days)
	}
	if p.SpacingGrid <= 0 {
		return fmt.Errorf("spacing_grid must be positive, got %v", p.SpacingGrid)
	}
	return nil
}

// Key is the canonical encoding of the tuple used to derive job identity.
func (p Params) Key() string {
	fields := []string{
		p.Srcmod,
		formatFloat(p.Friction),
		formatFloat(p.MuLambdaLame),
		formatFloat(p.NearFieldDistance),
		formatFloat(p.SpacingGrid),
		formatFloat(p.ObsDepth),
		formatFloat(p.Days),
		string(p.Catalog),
	}
	return strings.Join(fields, "|")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var jobNamespace = uuid.MustParse("c6a7d8b0-5a1e-4f32-9d0a-7be2c3f41d68")

// JobID derives the deterministic id for the tuple. Resubmitting the same
// tuple always maps to the same id.
func (p Params) JobID() string {
	return uuid.NewSHA1(jobNamespace, []byte(p.Key())).String()
}

// ResultName is the blob name results are stored under: the srcmod name
// without its leading "s", suffixed with the observation depth.
func (p Params) ResultName() string {
	return fmt.Sprintf("%s_%08.1f", strings.TrimPrefix(p.Srcmod, "s"), p.ObsDepth)
}

type Job struct {
	ID       string `json:"id"`
	Params   Params `json:"params"`
	Priority bool   `json:"priority,omitempty"`

	State          State      `json:"state"`
	LeaseOwner     *string    `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`

	ResultURI *string  `json:"result_uri,omitempty"`
	Errors    []string `json:"errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeaseExpired reports whether the job holds a lease that has lapsed. An
// expired lease is logically equivalent to pending.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.State == Leased && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// Eligible reports whether the job may be handed to a worker at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == Pending || j.LeaseExpired(now)
}

// Exhausted reports whether the job has used up its attempt budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

func (j *Job) LastError() string {
	if len(j.Errors) == 0 {
		return ""
	}
	return j.Errors[len(j.Errors)-1]
}

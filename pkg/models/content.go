package models

import "strings"

// ContentType is the logical kind of a catalog item.
type ContentType string

const (
	Movie  ContentType = "movie"
	Series ContentType = "series"
	Anime  ContentType = "anime"
)

// CatalogTypes lists the catalog kinds in the order history lookups search them.
var CatalogTypes = []ContentType{Movie, Series, Anime}

// ParseContentType accepts both the singular record form ("movie") and the
// plural route/domain form ("movies").
func ParseContentType(s string) (ContentType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies":
		return Movie, true
	case "series":
		return Series, true
	case "anime":
		return Anime, true
	default:
		return "", false
	}
}

// Episodic reports whether records of this type carry season/episode numbers.
func (t ContentType) Episodic() bool {
	return t == Series || t == Anime
}

// Domain returns the name of the catalog domain that stores this type.
func (t ContentType) Domain() DomainName {
	switch t {
	case Movie:
		return DomainMovies
	case Series:
		return DomainSeries
	case Anime:
		return DomainAnime
	default:
		return ""
	}
}

// DomainName identifies an independently credentialed group of shards.
type DomainName string

const (
	DomainMovies  DomainName = "movies"
	DomainSeries  DomainName = "series"
	DomainAnime   DomainName = "anime"
	DomainHistory DomainName = "history"
	DomainAccount DomainName = "account"
)

// AllDomains is every domain the service talks to.
var AllDomains = []DomainName{DomainMovies, DomainSeries, DomainAnime, DomainHistory, DomainAccount}

// Domain is the opaque handle used to address a domain in the record store.
type Domain struct {
	Name        DomainName
	APIKey      string
	WorkspaceID string
	// OptionalShards names shards whose read failures are tolerated during
	// fan-out instead of failing the whole aggregate.
	OptionalShards []string
}

// Complete reports whether both credentials are present.
func (d Domain) Complete() bool {
	return d.APIKey != "" && d.WorkspaceID != ""
}

// IsOptional reports whether the named shard may be skipped on read failure.
func (d Domain) IsOptional(shardName string) bool {
	for _, s := range d.OptionalShards {
		if s == shardName {
			return true
		}
	}
	return false
}

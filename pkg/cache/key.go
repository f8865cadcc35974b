package cache

import "strings"

// Key identifies a cached blob. Site scopes the key so two site collections
// with identically named files never collide.
type Key struct {
	// Site is the site URL the blob belongs to.
	Site string

	// Path is the server-relative path of the blob.
	Path string
}

// String generates a deterministic cache key string.
// Format: sp:blob:<site>:<path>
//
// Example:
//
//	sp:blob:tenant.sharepoint.com/sites/team:/sites/team/SiteAssets/photo.png
func (k Key) String() string {
	site := strings.TrimPrefix(k.Site, "https://")
	site = strings.TrimPrefix(site, "http://")
	site = strings.TrimSuffix(site, "/")

	return "sp:blob:" + site + ":" + k.Path
}

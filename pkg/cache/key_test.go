package cache

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "site url with scheme",
			key: Key{
				Site: "https://tenant.sharepoint.com/sites/team",
				Path: "/sites/team/SiteAssets/photo.png",
			},
			want: "sp:blob:tenant.sharepoint.com/sites/team:/sites/team/SiteAssets/photo.png",
		},
		{
			name: "trailing slash trimmed",
			key: Key{
				Site: "https://tenant.sharepoint.com/",
				Path: "/Shared Documents/report.pdf",
			},
			want: "sp:blob:tenant.sharepoint.com:/Shared Documents/report.pdf",
		},
		{
			name: "plain http",
			key: Key{
				Site: "http://localhost:8080",
				Path: "/photo.png",
			},
			want: "sp:blob:localhost:8080:/photo.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Determinism(t *testing.T) {
	key := Key{
		Site: "https://tenant.sharepoint.com/sites/team",
		Path: "/sites/team/photo.png",
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Fatalf("String() is not deterministic: %q != %q", got, first)
		}
	}
}

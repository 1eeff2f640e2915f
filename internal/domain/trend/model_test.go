// internal/domain/trend/model_test.go

package trend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Elden Ring DLC", "elden ring dlc"},
		{"collapses whitespace", "  hollow \t knight\n silksong ", "hollow knight silksong"},
		{"strips zero width", "mine\u200bcraft", "minecraft"},
		{"strips soft hyphen and bom", "\ufeffstar\u00adfield", "starfield"},
		{"nfkc folds fullwidth", "ＨＡＤＥＳ", "hades"},
		{"empty stays empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeTitle(tc.in))
		})
	}
}

func TestRecordIdentity(t *testing.T) {
	withID := Record{Title: "Some Game", EntityID: "/m/0abc12"}
	require.Equal(t, "/m/0abc12", withID.Identity())

	withoutID := Record{Title: "Some  GAME"}
	require.Equal(t, "some game", withoutID.Identity())
}

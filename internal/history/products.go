package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spray.report/internal/spray"
)

// productNamespace scopes product identity keys.
var productNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://spray.report/product"))

// DeriveProducts scans non-trashed sessions in ID order for runs of
// [gelcoat, gelcoat, barrier]. A matched run is consumed whole; otherwise
// the scan moves on by one session. Product IDs are left at zero.
func DeriveProducts(sessions []spray.Session) []spray.Product {
	live := make([]spray.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.IsTrash {
			live = append(live, s)
		}
	}

	var out []spray.Product
	for i := 0; i+2 < len(live); {
		a, b, c := live[i], live[i+1], live[i+2]
		if a.Pump != spray.Gelcoat || b.Pump != spray.Gelcoat || c.Pump != spray.Barrier {
			i++
			continue
		}
		out = append(out, spray.Product{
			IdentityKey:     IdentityKey(a, b, c),
			Start:           a.Start,
			End:             c.End,
			GelcoatMaterial: a.TotalSprayed + b.TotalSprayed,
			BarrierMaterial: c.TotalSprayed,
		})
		i += 3
	}
	return out
}

// IdentityKey is a name-based UUID over the boundaries of the sessions
// making up a product, so it survives session ID renumbering.
func IdentityKey(sessions ...spray.Session) string {
	var name []byte
	for _, s := range sessions {
		name = fmt.Appendf(name, "%s|%s|%s;", s.Pump, s.Start.UTC().Format(time.RFC3339Nano), s.End.UTC().Format(time.RFC3339Nano))
	}
	return uuid.NewSHA1(productNamespace, name).String()
}

package memory

import (
	"testing"

	"github.com/marmos91/nebulaftp/pkg/metadata/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) storetest.FullStore {
		return New()
	})
}

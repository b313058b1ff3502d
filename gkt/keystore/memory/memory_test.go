package memory

import (
	"testing"

	"github.com/TheusHen/gkt/gkt/keystore"
	"github.com/TheusHen/gkt/gkt/keystore/keystoretest"
)

func TestStore(t *testing.T) {
	keystoretest.Run(t, func(t *testing.T) keystore.Keystore {
		return New()
	})
}

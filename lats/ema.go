package lats

import (
	"fmt"
	"strings"

	"github.com/15737117639/Lifespan-Age-Transformation-Synthesis/networks"
)

// replicaPrefix is prepended to parameter names when a model is wrapped for
// multi-device replication. Accumulation strips it before comparing names so
// a wrapped live model still matches an unwrapped shadow.
const replicaPrefix = "module."

// Accumulate folds the live parameters into the shadow registry in place:
// shadow = decay·shadow + (1−decay)·live, walked positionally over the two
// ordered registries. Names are verified pairwise after prefix stripping; a
// mismatch is a configuration error and aborts before any write. decay=0
// copies the live model exactly.
func Accumulate(shadow, live []networks.NamedParam, decay float64) error {
	if len(shadow) != len(live) {
		return fmt.Errorf("parameter registry size mismatch: shadow has %d, live has %d", len(shadow), len(live))
	}
	if decay < 0 || decay > 1 {
		return fmt.Errorf("decay %v outside [0,1]", decay)
	}

	for i := range shadow {
		sName := strings.TrimPrefix(shadow[i].Name, replicaPrefix)
		lName := strings.TrimPrefix(live[i].Name, replicaPrefix)
		if sName != lName {
			return fmt.Errorf("parameter %d name mismatch: shadow %q vs live %q", i, shadow[i].Name, live[i].Name)
		}
		if shadow[i].Value.NumElems != live[i].Value.NumElems {
			return fmt.Errorf("parameter %q size mismatch: shadow %v vs live %v", sName, shadow[i].Value.Shape, live[i].Value.Shape)
		}
	}

	for i := range shadow {
		sData, err := shadow[i].Value.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("shadow parameter %q: %v", shadow[i].Name, err)
		}
		lData, err := live[i].Value.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("live parameter %q: %v", live[i].Name, err)
		}
		for j := range sData {
			sData[j] = float32(decay*float64(sData[j]) + (1-decay)*float64(lData[j]))
		}
	}
	return nil
}

// InitShadow copies the live parameters into the shadow model and freezes
// it. The shadow is never optimized afterwards, only overwritten by
// Accumulate.
func InitShadow(shadow, live networks.Network) error {
	if err := Accumulate(shadow.NamedParameters(), live.NamedParameters(), 0); err != nil {
		return err
	}
	networks.RequiresGrad(shadow, false)
	return nil
}

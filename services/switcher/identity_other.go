//go:build !unix

package switcher

import "fleetboot/pkg/bootos"

func LocalFamily() (bootos.Family, error) {
	return bootos.Windows, nil
}

package data

import (
	"slices"
	"strings"
	"time"

	"github.com/lk2023060901/glacier-archiver/internal/archive/types"
)

// archiveClasses 需要先恢复才能读取的存储类型
var archiveClasses = []string{"GLACIER", "DEEP_ARCHIVE"}

// restoreState is the x-amz-restore header, whichever client parsed it.
type restoreState struct {
	present bool
	ongoing bool
	expiry  time.Time
}

// objectStatus maps storage class and restore header to a restoration status:
//
//	not an archive class                  AVAILABLE
//	no restore requested                  NOT_AVAILABLE
//	restore ongoing                       RESTORE_PENDING
//	restored copy not expired             AVAILABLE (with expiry)
//	restored copy expired                 EXPIRED
func objectStatus(storageClass string, size int64, r restoreState, now time.Time) types.ObjectStatus {
	st := types.ObjectStatus{Size: size}
	switch {
	case !slices.Contains(archiveClasses, strings.ToUpper(storageClass)):
		st.Status = types.StatusAvailable
	case !r.present:
		st.Status = types.StatusNotAvailable
	case r.ongoing:
		st.Status = types.StatusRestorePending
	case !r.expiry.IsZero() && !r.expiry.After(now):
		st.Status = types.StatusExpired
		st.ExpiresAt = timePtr(r.expiry)
	default:
		st.Status = types.StatusAvailable
		if !r.expiry.IsZero() {
			st.ExpiresAt = timePtr(r.expiry)
		}
	}
	return st
}

func timePtr(t time.Time) *time.Time {
	return &t
}

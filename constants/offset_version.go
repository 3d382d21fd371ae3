package constants

// Offset record versions, stored next to every committed offset so that older
// offset files can still be read after the record layout changes.
//
// Version History:
//   - Version 1: position encoded as "commit,change,serial" together with the
//     snapshot completion flag and the incremental snapshot cursor.
const (
	LatestOffsetVersion = 1
)

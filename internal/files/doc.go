// Package files manages the on-disk working set of a run.
//
// Manager unpacks downloaded archives into the extraction directory and
// removes extracted files once they have been processed. Downloaded archives
// themselves are kept. Discovery lists the archives retained on disk.
//
//	manager := files.NewManager(paths, logger)
//	extracted, err := manager.ExtractArchive(manager.ArchivePath("trade_2023_03.zip"))
package files

package config

// Defaults for the CBS foreign trade files page. The category option values
// are the <option value> strings of the site's subject dropdown.
const (
	AppName = "tradeetl"

	DefaultSiteURL      = "https://www.cbs.gov.il/he/subjects/Pages/foreign-trade-files.aspx"
	DefaultImportOption = "import"
	DefaultExportOption = "export"

	DefaultStoreURI           = "mongodb://localhost:27017"
	DefaultDatabase           = "trade_data"
	DefaultMetadataCollection = "files_metadata"
	DefaultRecordsCollection  = "import_export_data"

	DefaultDownloadDir = "downloads"
	DefaultExtractDir  = "extracted"
	DefaultLogFile     = "logs/tradeetl.log"
)

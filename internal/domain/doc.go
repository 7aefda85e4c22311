// Package domain models commercial building permits and the analyses run
// over them.
//
// # Data Source
//
// Permits come from the City of Irving, TX open-data export "Commercial
// Permits Issued: Feb 15 2022 Through Present", published as a CSV. The
// pipeline fetches the whole file on a schedule, cleans every row, and
// publishes the result as an immutable [Dataset] snapshot.
//
// # Column Conventions
//
// Money columns (Valuation, Fees_Paid) are strings such as "$1,250,000.00".
// The dollar sign, thousands separators and spaces are stripped before
// parsing. Anything that still fails to parse, or is negative, is treated as
// missing (nil), never as zero.
//
// Square_Feet is numeric but may carry thousands separators or be blank.
//
// Dates use the ArcGIS export format "2006/01/02 15:04:05+00"; a handful of
// other layouts are accepted for hand-edited files. Unparseable dates are
// the zero time.
//
// The zip code is not a column of its own. It is the first 5-digit run in
// Address, optionally filled by a geocoder when the address has none.
//
// Duration is the number of whole days from Issued_Date to Finaled_Date,
// floored. Negative durations (a final date before the issue date) are kept
// on the permit and dropped by aggregation.
//
// # Fee Estimation
//
// [Estimator] prices a prospective permit from its k most similar historical
// permits of the same type:
//
//	eligible   = same permit type, fee present
//	no dims    → random sample of k eligible, fee = mean over ALL eligible
//	with dims  → keep rows with both square feet and valuation,
//	             z-score each column over those rows,
//	             distance = sqrt(mean of squared z differences over active dims),
//	             fee = mean over the k nearest (stable on ties)
//
// A column with zero spread (every row identical, or a single row) gives no
// signal and contributes 0 to every distance. "No comparable data" is
// reported as an estimate with a nil fee, not as an error.
package domain

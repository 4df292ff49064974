// Package domain models surface station observations and the pure
// transformations applied to them before gridding.
//
// # Sources
//
// Two station networks feed the pipeline:
//
//	ASOS   Iowa Environmental Mesonet (IEM) bulk CSV for one state network,
//	       requested for the whole UTC day containing the target instant.
//	Mesonet  University of Missouri agebb station pages. Each page embeds a
//	       whitespace-delimited table inside a single <pre> block. Times are
//	       local standard time (CST, UTC-6) and the year appears only once in
//	       the block header ("Year = 2025").
//
// Adapters turn both into [RawObservation] values that carry their native
// units, so a single converter serves every network.
//
// # Units
//
//	Temperature  °F in both networks, stored as °C.
//	Wind speed   knots (ASOS) or mph (Mesonet), stored as m/s.
//	Humidity     derived from T/Td with the Magnus relation (ASOS) or
//	             reported directly in percent (Mesonet).
//
// # Missing values
//
// ASOS encodes missing values as "M", trace precipitation as "T", and with
// missing=null as "null". Every unparseable token becomes NaN. NaN
// propagates through every derived quantity; it is never an error. A row
// without latitude or longitude is dropped because it cannot anchor a grid
// point.
//
// # Wind convention
//
// Direction is meteorological: degrees clockwise from true north that the
// wind blows FROM. Components follow u = -s·sin(d) (eastward) and
// v = -s·cos(d) (northward), so a north wind (d=0) has v < 0.
//
// # Report selection
//
// A network may report several times per hour. [SelectReports] keeps one
// report per station closest to the target instant inside [T, T+window],
// and falls back to the globally nearest timestamp when the window is
// empty. See [SelectReports] for tie-breaking.
package domain

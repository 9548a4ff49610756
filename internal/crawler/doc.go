// Package crawler implements the archive ingestion pipeline: the Walker that
// pages through the archive listing, the Extractor that turns a rendered
// detail page into a Candidate, the LabelReconciler that resolves raw label
// text against the persisted label set, and the Committer that inserts each
// record at most once. Engine ties them together behind the two entry points,
// Crawl (bounded page range) and CrawlUnseen (fresh prefix of the archive).
//
// The unseen-only policy relies on the archive being ordered newest first and
// never backfilled: the first listing link whose URL is already stored ends
// the whole walk. Items inserted behind an already-ingested link are never
// revisited by CrawlUnseen; a bounded Crawl over the affected pages picks
// them up.
package crawler

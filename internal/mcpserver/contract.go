package mcpserver

// DetailFormatContract describes how tag details are attached and stored, for
// LLM consumers that read or edit them.
const DetailFormatContract = `# Tag Detail Format Contract

A tag detail is a small record attached to one inline ` + "`" + `#tag` + "`" + ` occurrence in a
Markdown file. Details follow their tag as the file is edited.

## Addressing

- Occurrences are numbered from 0 in document order, skipping the YAML header,
  fenced code blocks and inline code spans.
- A tag is ` + "`" + `#` + "`" + ` followed by a letter or underscore, then letters, digits, ` + "`" + `_` + "`" + `, ` + "`" + `-` + "`" + ` or ` + "`" + `/` + "`" + `.
- Always call ` + "`" + `get_tag_details` + "`" + ` first and use the ` + "`" + `index` + "`" + ` it returns. Indices shift
  when tags are added or removed above the one you target.

## Record shape

- Attributes: an ordered mapping of name to string value or null.
- Typed items: name to ` + "`" + `[type, raw]` + "`" + ` where type is one of ` + "`" + `text` + "`" + `, ` + "`" + `number` + "`" + `,
  ` + "`" + `date` + "`" + `, ` + "`" + `link` + "`" + `, ` + "`" + `checkbox` + "`" + `.
- The attribute name ` + "`" + `$items` + "`" + ` is reserved.
- A tag without a detail has the record ` + "`" + `null` + "`" + `.

## Storage

In ` + "`" + `yaml` + "`" + ` mode the records are written into the file header under
` + "`" + `tag-details` + "`" + `, one entry per tag occurrence:

` + "```" + `markdown
---
title: Sprint 12
tag-details:
  - null
  - owner: dana
    status: open
    $items:
      due: [date, "2025-03-01"]
---

Kick-off #meeting, then ship #release.
` + "```" + `

Do not edit the ` + "`" + `tag-details` + "`" + ` list by hand; use ` + "`" + `set_tag_attribute` + "`" + `.
In ` + "`" + `plugin` + "`" + ` mode records live only in the tagledger database and the file is
never modified.
`

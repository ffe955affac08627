package browser

// annotateJS serialises the live DOM with the annotations domtree
// expects: data-heal-bounds and data-heal-visible on every element,
// shadow hosts marked and their open roots inlined, same-origin iframes
// rewritten to <heal-frame> around their inlined document. Script and
// style payloads are dropped; the engine only queries structure.
const annotateJS = `() => {
	const VOID = new Set(['area','base','br','col','embed','hr','img','input',
		'link','meta','source','track','wbr']);
	const esc = s => s.replace(/&/g, '&amp;').replace(/</g, '&lt;').replace(/>/g, '&gt;');
	const escAttr = s => esc(s).replace(/"/g, '&quot;');

	const serialize = (node, win) => {
		if (node.nodeType === 3) return esc(node.data);
		if (node.nodeType !== 1) return '';
		const tag = node.tagName.toLowerCase();
		if (tag === 'script' || tag === 'noscript' || tag === 'style') return '';

		let sameOriginDoc = null;
		if (tag === 'iframe' || tag === 'frame') {
			try { sameOriginDoc = node.contentDocument; } catch (e) { sameOriginDoc = null; }
		}
		const outTag = sameOriginDoc ? 'heal-frame' : tag;

		let out = '<' + outTag;
		for (const a of node.attributes) {
			if (a.name.startsWith('data-heal-')) continue;
			out += ' ' + a.name + '="' + escAttr(a.value) + '"';
		}

		const r = node.getBoundingClientRect();
		out += ' data-heal-bounds="' + Math.round(r.x) + ',' + Math.round(r.y) +
			',' + Math.round(r.width) + ',' + Math.round(r.height) + '"';
		const cs = win.getComputedStyle(node);
		const visible = cs.display !== 'none' && cs.visibility !== 'hidden' &&
			cs.opacity !== '0';
		out += ' data-heal-visible="' + visible + '"';
		if (sameOriginDoc) out += ' data-heal-iframe="true"';
		if (node.shadowRoot) out += ' data-heal-shadow="true"';
		out += '>';

		if (sameOriginDoc) {
			if (sameOriginDoc.documentElement) {
				out += serialize(sameOriginDoc.documentElement, sameOriginDoc.defaultView || win);
			}
		} else if (node.shadowRoot) {
			for (const c of node.shadowRoot.childNodes) out += serialize(c, win);
		} else {
			for (const c of node.childNodes) out += serialize(c, win);
		}

		if (!VOID.has(outTag)) out += '</' + outTag + '>';
		return out;
	};

	return '<!DOCTYPE html>' + serialize(document.documentElement, window);
}`
